/*
Copyright 2024 github.com/ucirello

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package api exposes the service over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"cirello.io/pgdb"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const maxRequestBodySize = 1 << 20

// Server routes HTTP requests to the organization handlers. Each request
// gets its own lease on the pool, acquired on the first statement.
type Server struct {
	pool       *pgdb.Pool
	clientOpts []pgdb.ClientOption
	log        zerolog.Logger
	validate   *validator.Validate
	router     chi.Router
}

// New returns a server backed by pool. opts apply to the lease of each
// request.
func New(pool *pgdb.Pool, log zerolog.Logger, opts ...pgdb.ClientOption) *Server {
	s := &Server{
		pool:       pool,
		clientOpts: opts,
		log:        log,
		validate:   validator.New(),
		router:     chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.accessLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.lease)

	r.Route("/organizations", func(r chi.Router) {
		r.Get("/", s.listOrganizations)
		r.Post("/", s.createOrganization)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getOrganization)
			r.Put("/", s.updateOrganization)
			r.Delete("/", s.deleteOrganization)
		})
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Message is the body of error responses.
type Message struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, Message{Detail: detail})
}

// writeError maps err to a response. Internal details are logged, never
// written back.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		timeout     *pgdb.TimeoutError
		unavailable *pgdb.UnavailableError
	)
	switch {
	case errors.As(err, &timeout), errors.As(err, &unavailable):
		s.log.Warn().Err(err).Str("request_id", chimiddleware.GetReqID(r.Context())).Msg("database unavailable")
		writeDetail(w, http.StatusServiceUnavailable, "database unavailable")
	default:
		s.log.Error().Err(err).Str("request_id", chimiddleware.GetReqID(r.Context())).Msg("request failed")
		writeDetail(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
