package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"

	"image-editor/internal/backend"
	"image-editor/internal/config"
	"image-editor/internal/editor"
	"image-editor/internal/imageproc"
	"image-editor/internal/intake"
	"image-editor/internal/session"
	"image-editor/internal/uploader"
)

func main() {
	if err := run(); err != nil {
		slog.Error("imgcrop failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("imgcrop"),
		kong.Description("Crop, resize and upload one image."),
		kong.UsageOnError(),
	)
	return cliCtx.Run()
}

type cliArgs struct {
	Crop    cropCmd    `cmd:"" default:"withargs" help:"Crop an image and write or upload the result."`
	Presets presetsCmd `cmd:"" help:"List aspect ratio presets."`
}

type cropCmd struct {
	Input   string    `arg:"" type:"existingfile" help:"Image to crop."`
	Config  string    `help:"Editor config YAML." env:"EDITOR_CONFIG" type:"path"`
	Label   string    `help:"Label used for the output filename." default:"Image"`
	Aspect  string    `help:"Aspect preset label, e.g. \"Square (1:1)\"."`
	Region  []float64 `help:"Crop region x,y,width,height in source pixels." sep:","`
	Width   int       `help:"Target width."`
	Height  int       `help:"Target height."`
	Zoom    float64   `help:"Output zoom (0.5-3.0)." default:"1"`
	Quality int       `help:"Encoder quality (0-100)." default:"-1"`
	Format  string    `help:"Output format: png, jpeg or webp."`
	Out     string    `short:"o" help:"Write the result here instead of uploading." type:"path"`
	Token   string    `help:"Authorization token for the graphql backend." env:"UPLOAD_TOKEN"`
	Verbose bool      `help:"Enable debug logging."`
}

func (cmd *cropCmd) Run() error {
	level := slog.LevelInfo
	if cmd.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load(cmd.Config)
	if err != nil {
		return err
	}
	// Every knob is reachable from the command line.
	cfg.Features = session.Features{EnableZoom: true, EnableQuality: true, EnableFormat: true, EnableAspectPresets: true}

	up, err := cmd.uploader(ctx, cfg)
	if err != nil {
		return err
	}

	var url string
	ed := editor.New(editor.Options{
		Label:     cmd.Label,
		Validator: cfg.Validator(),
		Session:   cfg.SessionConfig(),
		Uploader:  up,
		OnImageUpdate: func(u string) {
			url = u
		},
		Observer: func(o editor.Outcome) {
			if o.Err == nil {
				slog.Info("saved", "file", o.Filename, "size", humanize.IBytes(uint64(o.Bytes)), "width", o.Width, "height", o.Height)
			}
		},
	})

	data, err := os.ReadFile(cmd.Input)
	if err != nil {
		return err
	}
	file := intake.File{Name: filepath.Base(cmd.Input), Size: int64(len(data)), Data: data}
	if err := ed.SubmitFile(ctx, file); err != nil {
		return err
	}
	ed.Wait()
	if state := ed.Snapshot().State; state.Phase != editor.Editing {
		return fmt.Errorf("failed to open %s: %s", cmd.Input, state.Reason)
	}

	actions, err := cmd.actions()
	if err != nil {
		return err
	}
	for _, a := range actions {
		if err := ed.Dispatch(a); err != nil {
			return err
		}
	}

	if err := ed.Save(ctx); err != nil {
		return err
	}
	ed.Wait()

	state := ed.Snapshot().State
	if state.Phase != editor.Succeeded {
		return fmt.Errorf("save failed: %s", state.Reason)
	}
	fmt.Println(url)
	return nil
}

func (cmd *cropCmd) uploader(ctx context.Context, cfg *config.Config) (uploader.Uploader, error) {
	if cmd.Out == "" {
		b, err := backend.New(ctx, cfg, cmd.Token, slog.Default())
		if err != nil {
			return nil, err
		}
		return b.Uploader, nil
	}
	out := cmd.Out
	return uploader.Func(func(ctx context.Context, name string, data []byte, contentType string) (string, error) {
		path := out
		if info, err := os.Stat(out); err == nil && info.IsDir() {
			path = filepath.Join(out, name)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", err
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", err
		}
		return "file://" + filepath.ToSlash(abs), nil
	}), nil
}

func (cmd *cropCmd) actions() ([]session.Action, error) {
	var actions []session.Action
	if cmd.Aspect != "" {
		actions = append(actions, session.SelectAspectPreset{Label: cmd.Aspect})
	}
	if len(cmd.Region) > 0 {
		if len(cmd.Region) != 4 {
			return nil, fmt.Errorf("region needs x,y,width,height, got %d values", len(cmd.Region))
		}
		actions = append(actions, session.UpdateCrop{Region: imageproc.CropRegion{
			X: cmd.Region[0], Y: cmd.Region[1], Width: cmd.Region[2], Height: cmd.Region[3],
		}})
	}
	if cmd.Width > 0 || cmd.Height > 0 {
		w, h := cmd.Width, cmd.Height
		if w == 0 {
			w = h
		}
		if h == 0 {
			h = w
		}
		actions = append(actions, session.SetTargetDimensions{Width: w, Height: h})
	}
	actions = append(actions, session.SetZoom{Zoom: cmd.Zoom})
	if cmd.Quality >= 0 {
		actions = append(actions, session.SetQuality{Quality: cmd.Quality})
	}
	format := cmd.Format
	if format == "" && cmd.Out != "" {
		format = strings.TrimPrefix(filepath.Ext(cmd.Out), ".")
	}
	if format != "" {
		f, err := imageproc.ParseFormat(format)
		if err != nil {
			return nil, err
		}
		actions = append(actions, session.SetFormat{Format: f})
	}
	return actions, nil
}

type presetsCmd struct {
	Config string `help:"Editor config YAML." env:"EDITOR_CONFIG" type:"path"`
}

func (cmd *presetsCmd) Run() error {
	cfg, err := config.Load(cmd.Config)
	if err != nil {
		return err
	}
	for _, p := range cfg.AspectPresets() {
		if p.Ratio.IsFree() {
			fmt.Printf("%-20s free\n", p.Label)
			continue
		}
		fmt.Printf("%-20s %.4f\n", p.Label, float64(p.Ratio))
	}
	return nil
}
