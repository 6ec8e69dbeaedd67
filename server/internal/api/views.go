package api

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/skyway/adminboard/pkg/types"
	"github.com/skyway/adminboard/server/internal/dashboard"
)

// summary returns GET /api/v1/summary.
func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	serveList(w, r, h.deps.Dashboard.Summary)
}

// drivers returns GET /api/v1/drivers?q=: drivers matching q.
func (h *Handler) drivers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	serveList(w, r, func(ctx context.Context) ([]types.Driver, error) {
		return h.deps.Dashboard.ListDrivers(ctx, q)
	})
}

// verifyDriver handles POST /api/v1/drivers/{id}/verify.
func (h *Handler) verifyDriver(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req verifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Verified == nil {
		jsonErr(w, http.StatusBadRequest, "verified is required")
		return
	}
	if err := h.deps.Dashboard.SetDriverVerified(backendCtx(r), r.PathValue("id"), *req.Verified); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// cars serves GET and POST /api/v1/cars.
func (h *Handler) cars(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		serveList(w, r, h.deps.Dashboard.ListCars)
		return
	}
	img, ok := readUpload(w, r, "image", false)
	if !ok {
		return
	}
	defer closeImage(img)
	f := dashboard.CarForm{
		Make:   r.FormValue("make"),
		Model:  r.FormValue("model"),
		Year:   r.FormValue("year"),
		Plate:  r.FormValue("plate"),
		Seats:  r.FormValue("seats"),
		Rate:   r.FormValue("rate"),
		Status: r.FormValue("status"),
	}
	h.created(w, r, h.deps.Dashboard.CreateCar(backendCtx(r), f, img))
}

// jets serves GET and POST /api/v1/jets.
func (h *Handler) jets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		serveList(w, r, h.deps.Dashboard.ListJets)
		return
	}
	img, ok := readUpload(w, r, "image", false)
	if !ok {
		return
	}
	defer closeImage(img)
	f := dashboard.JetForm{
		Make:       r.FormValue("make"),
		Model:      r.FormValue("model"),
		Capacity:   r.FormValue("capacity"),
		RangeNM:    r.FormValue("range_nm"),
		HourlyRate: r.FormValue("hourly_rate"),
		Status:     r.FormValue("status"),
	}
	h.created(w, r, h.deps.Dashboard.CreateJet(backendCtx(r), f, img))
}

func (h *Handler) jetsBasic(w http.ResponseWriter, r *http.Request) {
	serveList(w, r, h.deps.Dashboard.ListJetsBasic)
}

func (h *Handler) jetBookings(w http.ResponseWriter, r *http.Request) {
	serveList(w, r, h.deps.Dashboard.ListJetBookings)
}

func (h *Handler) trips(w http.ResponseWriter, r *http.Request) {
	serveList(w, r, h.deps.Dashboard.ListTrips)
}

func (h *Handler) payouts(w http.ResponseWriter, r *http.Request) {
	serveList(w, r, h.deps.Dashboard.ListPayouts)
}

func (h *Handler) tickets(w http.ResponseWriter, r *http.Request) {
	serveList(w, r, h.deps.Dashboard.ListTickets)
}

func (h *Handler) users(w http.ResponseWriter, r *http.Request) {
	serveList(w, r, h.deps.Dashboard.ListUsers)
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	serveList(w, r, h.deps.Dashboard.ListEvents)
}

// count returns GET /api/v1/counts/{table}.
func (h *Handler) count(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	serveList(w, r, func(ctx context.Context) (CountResponse, error) {
		n, err := h.deps.Dashboard.Count(ctx, table)
		return CountResponse{Table: table, Count: n}, err
	})
}

// series returns GET /api/v1/series/{table}.
func (h *Handler) series(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	serveList(w, r, func(ctx context.Context) (SeriesResponse, error) {
		pts, err := h.deps.Dashboard.Series(ctx, table)
		return SeriesResponse{Table: table, Points: pts}, err
	})
}

// jetImages serves GET and POST /api/v1/jet-images.
func (h *Handler) jetImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		serveList(w, r, h.deps.Dashboard.ListJetImages)
		return
	}
	img, ok := readUpload(w, r, "file", true)
	if !ok {
		return
	}
	defer closeImage(img)
	h.created(w, r, h.deps.Dashboard.UploadJetImage(backendCtx(r), img))
}

// deleteJetImage handles DELETE /api/v1/jet-images/{name}.
func (h *Handler) deleteJetImage(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodDelete) {
		return
	}
	h.done(w, r, h.deps.Dashboard.DeleteJetImage(backendCtx(r), r.PathValue("name")))
}

// moveJetImage handles POST /api/v1/jet-images/{name}/move.
func (h *Handler) moveJetImage(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req moveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.done(w, r, h.deps.Dashboard.RenameJetImage(backendCtx(r), r.PathValue("name"), req.To))
}

// assignJetImage handles POST /api/v1/jet-images/{name}/assign.
func (h *Handler) assignJetImage(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req assignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.done(w, r, h.deps.Dashboard.AssignJetImage(backendCtx(r), req.JetID, r.PathValue("name")))
}

// settings returns GET /api/v1/settings.
func (h *Handler) settings(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	jsonResp(w, http.StatusOK, h.deps.Dashboard.Settings())
}

// --- helpers ----------------------------------------------------------------

func (h *Handler) created(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) done(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readUpload parses a multipart body and returns the file in field. A missing
// optional file yields nil. Failures are written to w.
func readUpload(w http.ResponseWriter, r *http.Request, field string, required bool) (*dashboard.Image, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return nil, false
	}
	f, hdr, err := r.FormFile(field)
	switch {
	case errors.Is(err, http.ErrMissingFile):
		if required {
			jsonErr(w, http.StatusBadRequest, field+" is required")
			return nil, false
		}
		return nil, true
	case err != nil:
		jsonErr(w, http.StatusBadRequest, "read "+field+": "+err.Error())
		return nil, false
	}
	return imageFrom(f, hdr), true
}

func imageFrom(f multipart.File, hdr *multipart.FileHeader) *dashboard.Image {
	ct := hdr.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return &dashboard.Image{Name: hdr.Filename, ContentType: ct, Body: f}
}

func closeImage(img *dashboard.Image) {
	if img == nil {
		return
	}
	if c, ok := img.Body.(io.Closer); ok {
		c.Close() //nolint:errcheck
	}
}
