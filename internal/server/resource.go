package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Makepad-fr/tada/internal/errs"
	"github.com/Makepad-fr/tada/internal/gateway"
	"github.com/Makepad-fr/tada/internal/model"
)

// resource serves one table. claim stamps a row the caller wants to
// write with the caller's identity, refusing rows that name someone else.
type resource[R any, P any] struct {
	kind  gateway.Kind
	table gateway.Table[R, P]
	claim func(row R, id model.Identity) (R, error)
}

func (res *resource[R, P]) routes(s *Server, r chi.Router) {
	r.Post("/", res.insert)
	r.Put("/", res.upsert)
	r.Route("/{owner}", func(r chi.Router) {
		r.Use(ownerOnly)
		r.Get("/", res.readAll)
		r.Get("/changes", func(w http.ResponseWriter, r *http.Request) {
			s.feed(w, r, res.kind, res.table.Subscribe)
		})
		r.Patch("/{id}", res.update)
		r.Delete("/{id}", res.delete)
	})
}

// ownerOnly refuses any {owner} other than the caller.
func ownerOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if owner := chi.URLParam(r, "owner"); owner != identityFrom(r.Context()).ID {
			writeError(w, errs.Errorf(errs.Authorization, "", "cannot access rows of %s", owner))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func decode(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, 1<<20)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return errs.Wrap(errs.Validation, "decode body", err)
	}
	return nil
}

func (res *resource[R, P]) readAll(w http.ResponseWriter, r *http.Request) {
	order, err := gateway.ParseOrder(r.URL.Query().Get("order"))
	if err != nil {
		writeError(w, errs.Wrap(errs.Validation, "", err))
		return
	}
	rows, err := res.table.ReadAll(r.Context(), identityFrom(r.Context()).ID, order)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (res *resource[R, P]) insert(w http.ResponseWriter, r *http.Request) {
	var row R
	if err := decode(r, &row); err != nil {
		writeError(w, err)
		return
	}
	row, err := res.claim(row, identityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	created, err := res.table.Insert(r.Context(), row)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (res *resource[R, P]) upsert(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("on_conflict")
	if key == "" {
		key = "id"
	}
	var row R
	if err := decode(r, &row); err != nil {
		writeError(w, err)
		return
	}
	row, err := res.claim(row, identityFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	stored, err := res.table.Upsert(r.Context(), row, key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (res *resource[R, P]) update(w http.ResponseWriter, r *http.Request) {
	var patch P
	if err := decode(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	updated, err := res.table.Update(r.Context(), chi.URLParam(r, "id"), identityFrom(r.Context()).ID, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (res *resource[R, P]) delete(w http.ResponseWriter, r *http.Request) {
	if err := res.table.Delete(r.Context(), chi.URLParam(r, "id"), identityFrom(r.Context()).ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func claimTask(t model.Task, id model.Identity) (model.Task, error) {
	if t.Owner != "" && t.Owner != id.ID {
		return t, errs.E(errs.Authorization, "", "cannot create tasks for another user")
	}
	t.Owner = id.ID
	return t, nil
}

func claimProfile(p model.Profile, id model.Identity) (model.Profile, error) {
	if p.ID != "" && p.ID != id.ID {
		return p, errs.E(errs.Authorization, "", "cannot write another user's profile")
	}
	p.ID = id.ID
	if id.Email != "" {
		p.Email = id.Email
	}
	return p, nil
}
