package mockapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/panyam/lettings"
)

const maxUploadSize = 10 << 20

func (s *Server) handleSearchProperties(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f propertyFilter
	var err error
	intParam := func(name string, def int) int {
		v := q.Get(name)
		if v == "" || err != nil {
			return def
		}
		var n int
		n, err = strconv.Atoi(v)
		return n
	}
	f.location = q.Get("location")
	f.propertyType = q.Get("property_type")
	f.minRent = intParam("min_rent", 0)
	f.maxRent = intParam("max_rent", 0)
	f.minBedrooms = intParam("min_bedrooms", 0)
	page := intParam("page", 1)
	pageSize := intParam("page_size", 10)
	if v := q.Get("furnished"); v != "" && err == nil {
		var b bool
		b, err = strconv.ParseBool(v)
		f.furnished = &b
	}
	if err != nil || page < 1 || pageSize < 1 || pageSize > 100 {
		apiError(w, http.StatusBadRequest, "invalid_query", "invalid search parameters")
		return
	}
	writeJSON(w, http.StatusOK, s.data.search(f, page, pageSize))
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	s.data.mu.Lock()
	p, ok := s.data.property(mux.Vars(r)["id"])
	s.data.mu.Unlock()
	if !ok {
		apiError(w, http.StatusNotFound, "not_found", "property not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	owner := userFromContext(r.Context())
	s.data.mu.Lock()
	items := []lettings.Application{}
	for _, id := range s.data.appOrder {
		if oa := s.data.applications[id]; oa.owner == owner {
			items = append(items, oa.app)
		}
	}
	s.data.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleCreateApplication(w http.ResponseWriter, r *http.Request) {
	owner := userFromContext(r.Context())
	var req struct {
		PropertyID string `json:"property_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PropertyID == "" {
		apiError(w, http.StatusBadRequest, "invalid_request", "property_id is required")
		return
	}

	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	if _, ok := s.data.property(req.PropertyID); !ok {
		apiError(w, http.StatusNotFound, "not_found", "property not found")
		return
	}
	now := time.Now().UTC()
	app := lettings.Application{
		ID:         s.data.newID("app"),
		PropertyID: req.PropertyID,
		Status:     lettings.StatusDraft,
		Step:       1,
		Applicant:  lettings.Applicant{Email: owner},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.data.putApplication(owner, app)
	writeJSON(w, http.StatusCreated, app)
}

// ownedApplication finds the caller's application (caller must hold the data lock)
func (s *Server) ownedApplication(w http.ResponseWriter, r *http.Request) (*ownedApplication, bool) {
	oa, ok := s.data.applications[mux.Vars(r)["id"]]
	if !ok || oa.owner != userFromContext(r.Context()) {
		apiError(w, http.StatusNotFound, "not_found", "application not found")
		return nil, false
	}
	return oa, true
}

func (s *Server) handleGetApplication(w http.ResponseWriter, r *http.Request) {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	if oa, ok := s.ownedApplication(w, r); ok {
		writeJSON(w, http.StatusOK, oa.app)
	}
}

// handlePatchApplication merges the body into a draft application. The
// applicant and guarantor blocks merge field by field.
func (s *Server) handlePatchApplication(w http.ResponseWriter, r *http.Request) {
	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		apiError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	for _, k := range []string{"id", "status", "property_id", "documents", "created_at", "submitted_at"} {
		delete(patch, k)
	}
	if step, ok := patch["step"].(float64); ok && step < 1 {
		apiError(w, http.StatusBadRequest, "invalid_step", "step must be positive")
		return
	}

	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	oa, ok := s.ownedApplication(w, r)
	if !ok {
		return
	}
	if !oa.app.Status.Editable() {
		apiError(w, http.StatusConflict, "not_editable", "application has already been submitted")
		return
	}

	merged, err := toMap(oa.app)
	if err != nil {
		apiError(w, http.StatusInternalServerError, "server_error", "failed to update application")
		return
	}
	for k, v := range patch {
		block, isBlock := v.(map[string]any)
		current, hasBlock := merged[k].(map[string]any)
		if isBlock && hasBlock {
			for bk, bv := range block {
				current[bk] = bv
			}
			continue
		}
		merged[k] = v
	}

	app, err := lettings.NormalizeApplication(merged)
	if err != nil {
		apiError(w, http.StatusBadRequest, "invalid_application", err.Error())
		return
	}
	app.Documents = oa.app.Documents
	app.UpdatedAt = time.Now().UTC()
	oa.app = *app
	writeJSON(w, http.StatusOK, oa.app)
}

func (s *Server) handleSubmitApplication(w http.ResponseWriter, r *http.Request) {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	oa, ok := s.ownedApplication(w, r)
	if !ok {
		return
	}
	if !oa.app.Status.Editable() {
		apiError(w, http.StatusConflict, "not_editable", "application has already been submitted")
		return
	}
	a := oa.app.Applicant
	if a.FirstName == "" || a.LastName == "" || a.Email == "" {
		apiError(w, http.StatusBadRequest, "incomplete", "applicant details are incomplete")
		return
	}
	now := time.Now().UTC()
	oa.app.Status = lettings.StatusSubmitted
	oa.app.SubmittedAt = now
	oa.app.UpdatedAt = now
	writeJSON(w, http.StatusOK, oa.app)
}

func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		apiError(w, http.StatusBadRequest, "invalid_upload", "expected a multipart form")
		return
	}
	file, header, err := r.FormFile(lettings.DocumentField)
	if err != nil {
		apiError(w, http.StatusBadRequest, "invalid_upload", "file is required")
		return
	}
	defer file.Close()
	size, err := io.Copy(io.Discard, file)
	if err != nil {
		apiError(w, http.StatusBadRequest, "invalid_upload", "failed to read file")
		return
	}
	category := r.FormValue("category")
	if category == "" {
		category = "other"
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	oa, ok := s.ownedApplication(w, r)
	if !ok {
		return
	}
	doc := lettings.Document{
		ID:          s.data.newID("doc"),
		Name:        header.Filename,
		Category:    category,
		ContentType: contentType,
		Size:        size,
		UploadedAt:  time.Now().UTC(),
	}
	oa.app.Documents = append(oa.app.Documents, doc)
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleRequestReference(w http.ResponseWriter, r *http.Request) {
	var ref lettings.Reference
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil {
		apiError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if ref.Kind != lettings.ReferenceLandlord && ref.Kind != lettings.ReferenceEmployer {
		apiError(w, http.StatusBadRequest, "invalid_reference", "kind must be landlord or employer")
		return
	}
	if !strings.Contains(ref.Email, "@") {
		apiError(w, http.StatusBadRequest, "invalid_reference", "a valid email is required")
		return
	}

	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	oa, ok := s.ownedApplication(w, r)
	if !ok {
		return
	}
	ref.ID = s.data.newID("ref")
	ref.Status = "requested"
	ref.RequestedAt = time.Now().UTC()
	oa.app.References = append(oa.app.References, ref)
	if oa.app.Status == lettings.StatusSubmitted {
		oa.app.Status = lettings.StatusReferencing
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (s *Server) handleListViewings(w http.ResponseWriter, r *http.Request) {
	owner := userFromContext(r.Context())
	s.data.mu.Lock()
	out := []map[string]any{}
	for _, id := range s.data.inviteOrder {
		if oi := s.data.invites[id]; oi.owner == owner {
			out = append(out, legacyInvite(oi.invite))
		}
	}
	s.data.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRespondViewing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Accept bool                  `json:"accept"`
		Slot   *lettings.ViewingSlot `json:"slot"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	oi, ok := s.data.invites[mux.Vars(r)["id"]]
	if !ok || oi.owner != userFromContext(r.Context()) {
		apiError(w, http.StatusNotFound, "not_found", "viewing invite not found")
		return
	}
	if oi.invite.Status != lettings.ViewingPending {
		apiError(w, http.StatusConflict, "already_answered", "viewing invite has already been answered")
		return
	}
	if !req.Accept {
		oi.invite.Status = lettings.ViewingDeclined
		writeJSON(w, http.StatusOK, legacyInvite(oi.invite))
		return
	}
	if req.Slot == nil {
		apiError(w, http.StatusBadRequest, "invalid_slot", "a slot is required to accept")
		return
	}
	for _, slot := range oi.invite.Slots {
		if slot.Start.Equal(req.Slot.Start) {
			chosen := slot
			oi.invite.Chosen = &chosen
			oi.invite.Status = lettings.ViewingAccepted
			writeJSON(w, http.StatusOK, legacyInvite(oi.invite))
			return
		}
	}
	apiError(w, http.StatusBadRequest, "invalid_slot", "slot is not offered")
}

func (s *Server) conversation(w http.ResponseWriter, r *http.Request) (*conversation, bool) {
	c, ok := s.data.conversations[mux.Vars(r)["id"]]
	if !ok || c.owner != userFromContext(r.Context()) {
		apiError(w, http.StatusNotFound, "not_found", "conversation not found")
		return nil, false
	}
	return c, true
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	c, ok := s.conversation(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, lettings.Page[lettings.ChatMessage]{
		Items:    c.messages,
		Total:    len(c.messages),
		Page:     1,
		PageSize: len(c.messages),
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Body) == "" {
		apiError(w, http.StatusBadRequest, "invalid_message", "message body is required")
		return
	}

	s.data.mu.Lock()
	defer s.data.mu.Unlock()
	c, ok := s.conversation(w, r)
	if !ok {
		return
	}
	msg := lettings.ChatMessage{
		ID:             s.data.newID("msg"),
		ConversationID: mux.Vars(r)["id"],
		Sender:         c.owner,
		Body:           req.Body,
		SentAt:         time.Now().UTC(),
	}
	c.messages = append(c.messages, msg)
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	unread, _ := strconv.ParseBool(r.URL.Query().Get("unread"))
	items := s.data.inboxFor(userFromContext(r.Context()), unread)
	writeJSON(w, http.StatusOK, lettings.Page[lettings.InboxEmail]{
		Items:    items,
		Total:    len(items),
		Page:     1,
		PageSize: len(items),
	})
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("not an object")
	}
	return m, nil
}
