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

package api

import (
	"context"
	"net/http"
	"time"

	"cirello.io/pgdb"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const clientContextKey contextKey = "db"

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("size", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("remote", r.RemoteAddr).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}

// lease binds a client to the request. The connection is only taken from the
// pool if a handler runs a statement, and is given back once the request is
// served. A failed release is logged and does not change the response.
func (s *Server) lease(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := s.pool.Acquire(s.clientOpts...)
		defer func() {
			if err := c.Close(context.WithoutCancel(r.Context())); err != nil {
				s.log.Error().Err(err).
					Str("client", c.ID()).
					Str("request_id", chimiddleware.GetReqID(r.Context())).
					Msg("cannot release database connection")
			}
		}()
		ctx := context.WithValue(r.Context(), clientContextKey, c)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientFrom(ctx context.Context) *pgdb.Client {
	c, _ := ctx.Value(clientContextKey).(*pgdb.Client)
	return c
}
