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
	"errors"
	"net/http"
	"strconv"

	"cirello.io/pgdb/internal/organization"
	"github.com/go-chi/chi/v5"
)

// OrganizationRequest is the body of organization creation and renaming.
type OrganizationRequest struct {
	Name string `json:"name" validate:"required,min=2,max=32"`
}

func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := organization.List(r.Context(), clientFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if orgs == nil {
		orgs = []organization.Organization{}
	}
	writeJSON(w, http.StatusOK, orgs)
}

func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	req, ok := s.organizationRequest(w, r)
	if !ok {
		return
	}
	org, err := organization.Create(r.Context(), clientFrom(r.Context()), req.Name)
	if err != nil {
		s.organizationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, org)
}

func (s *Server) getOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := organizationID(w, r)
	if !ok {
		return
	}
	org, err := organization.Get(r.Context(), clientFrom(r.Context()), id)
	if err != nil {
		s.organizationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (s *Server) updateOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := organizationID(w, r)
	if !ok {
		return
	}
	req, ok := s.organizationRequest(w, r)
	if !ok {
		return
	}
	if err := organization.Update(r.Context(), clientFrom(r.Context()), id, req.Name); err != nil {
		s.organizationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, 1)
}

func (s *Server) deleteOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := organizationID(w, r)
	if !ok {
		return
	}
	if err := organization.Delete(r.Context(), clientFrom(r.Context()), id); err != nil {
		s.organizationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, 1)
}

func (s *Server) organizationRequest(w http.ResponseWriter, r *http.Request) (OrganizationRequest, bool) {
	var req OrganizationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if err := s.validate.Struct(req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "name must have between 2 and 32 characters")
		return req, false
	}
	return req, true
}

func (s *Server) organizationError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, organization.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "Organization not found")
	case errors.Is(err, organization.ErrNameAlreadyUsed):
		writeDetail(w, http.StatusConflict, "Organization name already used")
	default:
		s.writeError(w, r, err)
	}
}

func organizationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeDetail(w, http.StatusNotFound, "Organization not found")
		return 0, false
	}
	return id, true
}
