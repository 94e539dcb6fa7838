// Package api exposes editor sessions over HTTP. Routes and types mirror
// openapi.yaml at the repository root.
package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"image-editor/internal/editor"
)

type ErrorResponse struct {
	Message string `json:"message"`
}

type CreateSessionRequest struct {
	Label        string `json:"label,omitempty"`
	CurrentImage string `json:"currentImage,omitempty"`
}

type FetchRequest struct {
	Url string `json:"url"`
}

type SessionResponse struct {
	Id openapi_types.UUID `json:"id"`
	editor.Snapshot
	CircularPreview bool                  `json:"circularPreview"`
	Notifications   []editor.Notification `json:"notifications"`
}

type UploadRecord struct {
	Id        openapi_types.UUID `json:"id"`
	SessionId openapi_types.UUID `json:"sessionId"`
	Label     string             `json:"label"`
	Filename  string             `json:"filename"`
	Status    string             `json:"status"`
	Url       *string            `json:"url,omitempty"`
	MimeType  string             `json:"mimeType"`
	Bytes     int64              `json:"bytes"`
	Width     int                `json:"width"`
	Height    int                `json:"height"`
	Failure   *string            `json:"failure,omitempty"`
	Error     *string            `json:"error,omitempty"`
	CreatedAt string             `json:"createdAt"`
}

type UploadList struct {
	Uploads []UploadRecord `json:"uploads"`
}

type ListUploadsParams struct {
	Label *string `form:"label,omitempty" json:"label,omitempty"`
	Limit *int    `form:"limit,omitempty" json:"limit,omitempty"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (POST /sessions)
	CreateSession(w http.ResponseWriter, r *http.Request)
	// (GET /sessions/{id})
	GetSession(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)
	// (DELETE /sessions/{id})
	DeleteSession(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)
	// (POST /sessions/{id}/file)
	UploadSessionFile(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)
	// (POST /sessions/{id}/fetch)
	FetchSessionImage(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)
	// (POST /sessions/{id}/actions)
	ApplySessionAction(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)
	// (POST /sessions/{id}/save)
	SaveSession(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)
	// (DELETE /sessions/{id}/image)
	RemoveSessionImage(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)
	// (GET /uploads)
	ListUploads(w http.ResponseWriter, r *http.Request, params ListUploadsParams)
	// (GET /uploads/{id})
	GetUpload(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)
}

type wrapper struct {
	handler ServerInterface
}

func (wr *wrapper) withID(next func(w http.ResponseWriter, r *http.Request, id openapi_types.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id openapi_types.UUID
		err := runtime.BindStyledParameterWithOptions("simple", "id", chi.URLParam(r, "id"), &id,
			runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
		if err != nil {
			http.Error(w, fmt.Sprintf("Invalid format for parameter id: %s", err), http.StatusBadRequest)
			return
		}
		next(w, r, id)
	}
}

func (wr *wrapper) listUploads(w http.ResponseWriter, r *http.Request) {
	var params ListUploadsParams
	if err := runtime.BindQueryParameter("form", true, false, "label", r.URL.Query(), &params.Label); err != nil {
		http.Error(w, fmt.Sprintf("Invalid format for parameter label: %s", err), http.StatusBadRequest)
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &params.Limit); err != nil {
		http.Error(w, fmt.Sprintf("Invalid format for parameter limit: %s", err), http.StatusBadRequest)
		return
	}
	wr.handler.ListUploads(w, r, params)
}

// HandlerFromMux registers every route of si on r.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	wr := &wrapper{handler: si}
	r.Post("/sessions", si.CreateSession)
	r.Get("/sessions/{id}", wr.withID(si.GetSession))
	r.Delete("/sessions/{id}", wr.withID(si.DeleteSession))
	r.Post("/sessions/{id}/file", wr.withID(si.UploadSessionFile))
	r.Post("/sessions/{id}/fetch", wr.withID(si.FetchSessionImage))
	r.Post("/sessions/{id}/actions", wr.withID(si.ApplySessionAction))
	r.Post("/sessions/{id}/save", wr.withID(si.SaveSession))
	r.Delete("/sessions/{id}/image", wr.withID(si.RemoveSessionImage))
	r.Get("/uploads", wr.listUploads)
	r.Get("/uploads/{id}", wr.withID(si.GetUpload))
	return r
}
