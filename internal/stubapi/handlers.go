package stubapi

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vopex/crmkit/httpx"
	"golang.org/x/crypto/bcrypt"
)

type authPayload struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (s *Server) respondWithToken(c httpx.Context, status int, u *user) error {
	token, err := s.IssueToken(u.ID, 0)
	if err != nil {
		return httpx.HTTPError(httpx.StatusInternalError, "could not issue token")
	}
	return c.JSON(status, map[string]any{"token": token, "user": u.public()})
}

func (s *Server) register(c httpx.Context) error {
	var in authPayload
	if err := c.Bind(&in); err != nil {
		return httpx.HTTPError(httpx.StatusBadRequest, "invalid body")
	}
	u, err := s.addUser(in.Email, in.Password, in.FirstName, in.LastName, "")
	switch {
	case errors.Is(err, ErrEmailInUse):
		return httpx.HTTPError(httpx.StatusConflict, "email already registered")
	case err != nil:
		return httpx.HTTPError(httpx.StatusBadRequest, err.Error())
	}
	return s.respondWithToken(c, httpx.StatusCreated, u)
}

func (s *Server) login(c httpx.Context) error {
	var in authPayload
	if err := c.Bind(&in); err != nil {
		return httpx.HTTPError(httpx.StatusBadRequest, "invalid body")
	}
	u, err := s.authenticate(in.Email, in.Password)
	if err != nil {
		return httpx.HTTPError(httpx.StatusUnauthorized, "invalid credentials")
	}
	return s.respondWithToken(c, httpx.StatusOK, u)
}

func (s *Server) refresh(c httpx.Context) error {
	raw, ok := strings.CutPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
	if !ok {
		return httpx.HTTPError(httpx.StatusUnauthorized, "missing bearer token")
	}
	ctx, err := s.verify(c.Request().Context(), strings.TrimSpace(raw))
	if err != nil {
		return httpx.HTTPError(httpx.StatusUnauthorized, "invalid token")
	}
	subject, _ := ctx.Value(ctxKey{}).(string)
	token, err := s.IssueToken(subject, 0)
	if err != nil {
		return httpx.HTTPError(httpx.StatusInternalError, "could not issue token")
	}
	return c.JSON(httpx.StatusOK, map[string]string{"token": token})
}

func (s *Server) passwordResetRequest(c httpx.Context) error {
	var in struct {
		Email string `json:"email"`
	}
	if err := c.Bind(&in); err != nil {
		return httpx.HTTPError(httpx.StatusBadRequest, "invalid body")
	}
	email := strings.ToLower(strings.TrimSpace(in.Email))
	s.mu.Lock()
	if _, ok := s.users[email]; ok {
		s.resets[uuid.NewString()] = email
	}
	s.mu.Unlock()
	// Unknown addresses get the same answer.
	return c.NoContent(httpx.StatusNoContent)
}

func (s *Server) passwordReset(c httpx.Context) error {
	var in struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := c.Bind(&in); err != nil || in.NewPassword == "" {
		return httpx.HTTPError(httpx.StatusBadRequest, "token and newPassword are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), s.cfg.BcryptCost)
	if err != nil {
		return httpx.HTTPError(httpx.StatusBadRequest, "invalid password")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.resets[in.Token]
	if !ok {
		return httpx.HTTPError(httpx.StatusBadRequest, "invalid or used reset token")
	}
	delete(s.resets, in.Token)
	s.users[email].PasswordHash = hash
	return c.NoContent(httpx.StatusNoContent)
}

func (s *Server) health(c httpx.Context) error {
	now := s.cfg.Now()
	return c.JSON(httpx.StatusOK, map[string]any{
		"status":        "ok",
		"version":       "stub",
		"environment":   s.cfg.Environment,
		"uptimeSeconds": int64(now.Sub(s.started).Seconds()),
		"time":          now.UTC().Format(time.RFC3339),
	})
}

func (s *Server) featureFlags(c httpx.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.flagsDown {
		return httpx.HTTPError(httpx.StatusServiceUnavailable, "flag service unavailable")
	}
	return c.JSON(httpx.StatusOK, append([]Flag{}, s.flags...))
}

func queryInt(c httpx.Context, name string, def int) int {
	if n, err := strconv.Atoi(c.QueryParam(name)); err == nil {
		return n
	}
	return def
}

func queryFloat(c httpx.Context, name string) (float64, bool) {
	f, err := strconv.ParseFloat(c.QueryParam(name), 64)
	return f, err == nil
}

// Leads

func (s *Server) findLead(id string) (*lead, bool) {
	for _, l := range s.leads {
		if l.ID == id {
			return l, true
		}
	}
	return nil, false
}

func (s *Server) listLeads(c httpx.Context) error {
	status, source := c.QueryParam("status"), c.QueryParam("source")
	q := strings.ToLower(c.QueryParam("q"))

	s.mu.RLock()
	matched := make([]lead, 0, len(s.leads))
	for _, l := range s.leads {
		if status != "" && l.Status != status {
			continue
		}
		if source != "" && l.Source != source {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(l.FirstName+" "+l.LastName+" "+l.Email), q) {
			continue
		}
		matched = append(matched, *l)
	}
	s.mu.RUnlock()
	return c.JSON(httpx.StatusOK, paginate(matched, queryInt(c, "page", 1), queryInt(c, "pageSize", 10)))
}

func (s *Server) createLead(c httpx.Context) error {
	var in lead
	if err := c.Bind(&in); err != nil {
		return httpx.HTTPError(httpx.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(in.Email) == "" {
		return httpx.HTTPError(httpx.StatusBadRequest, "email is required")
	}
	now := s.cfg.Now()
	s.mu.Lock()
	in.ID = s.nextID("lead")
	if in.Status == "" {
		in.Status = "new"
	}
	in.CreatedAt, in.UpdatedAt = now, now
	s.leads = append(s.leads, &in)
	s.mu.Unlock()
	return c.JSON(httpx.StatusCreated, in)
}

func (s *Server) getLead(c httpx.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.findLead(c.Param("id"))
	if !ok {
		return httpx.HTTPError(httpx.StatusNotFound, "lead not found")
	}
	return c.JSON(httpx.StatusOK, l)
}

func (s *Server) updateLead(c httpx.Context) error {
	var in lead
	if err := c.Bind(&in); err != nil {
		return httpx.HTTPError(httpx.StatusBadRequest, "invalid body")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.findLead(c.Param("id"))
	if !ok {
		return httpx.HTTPError(httpx.StatusNotFound, "lead not found")
	}
	mergeString(&l.FirstName, in.FirstName)
	mergeString(&l.LastName, in.LastName)
	mergeString(&l.Email, in.Email)
	mergeString(&l.Phone, in.Phone)
	mergeString(&l.Source, in.Source)
	mergeString(&l.Status, in.Status)
	l.UpdatedAt = s.cfg.Now()
	return c.JSON(httpx.StatusOK, l)
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (s *Server) enrichLead(c httpx.Context) error {
	var in struct {
		AdditionalInfo map[string]any `json:"additionalInfo"`
	}
	if err := c.Bind(&in); err != nil {
		return httpx.HTTPError(httpx.StatusBadRequest, "invalid body")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.findLead(c.Param("id"))
	if !ok {
		return httpx.HTTPError(httpx.StatusNotFound, "lead not found")
	}
	if l.Enrichment == nil {
		l.Enrichment = make(map[string]any, len(in.AdditionalInfo))
	}
	for k, v := range in.AdditionalInfo {
		l.Enrichment[k] = v
	}
	l.UpdatedAt = s.cfg.Now()
	return c.JSON(httpx.StatusOK, l)
}

var statusWeight = map[string]int{"new": 0, "contacted": 15, "qualified": 25, "converted": 40}

func scoreLead(l *lead) int {
	score := 10
	if l.Email != "" {
		score += 20
	}
	if l.Phone != "" {
		score += 15
	}
	score += statusWeight[l.Status]
	score += 5 * len(l.Enrichment)
	if l.Status == "lost" {
		score = 0
	}
	return min(score, 100)
}

func (s *Server) leadScore(c httpx.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.findLead(c.Param("id"))
	if !ok {
		return httpx.HTTPError(httpx.StatusNotFound, "lead not found")
	}
	l.Score = scoreLead(l)
	return c.JSON(httpx.StatusOK, map[string]any{"leadId": l.ID, "score": l.Score})
}

func (s *Server) leadPrediction(c httpx.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.findLead(c.Param("id"))
	if !ok {
		return httpx.HTTPError(httpx.StatusNotFound, "lead not found")
	}
	p := float64(scoreLead(l)) / 100
	action := "nurture"
	switch {
	case p >= 0.7:
		action = "schedule_demo"
	case p >= 0.4:
		action = "follow_up"
	}
	return c.JSON(httpx.StatusOK, map[string]any{
		"leadId":                l.ID,
		"conversionProbability": p,
		"recommendedAction":     action,
	})
}

// Opportunities

func (s *Server) findOpportunity(id string) (*opportunity, bool) {
	for _, o := range s.opportunities {
		if o.ID == id {
			return o, true
		}
	}
	return nil, false
}

func (s *Server) listOpportunities(c httpx.Context) error {
	stage := c.QueryParam("stage")
	minRev, hasMin := queryFloat(c, "minRevenue")
	maxRev, hasMax := queryFloat(c, "maxRevenue")

	s.mu.RLock()
	matched := make([]opportunity, 0, len(s.opportunities))
	for _, o := range s.opportunities {
		if stage != "" && o.Stage != stage {
			continue
		}
		if hasMin && o.ExpectedRevenue < minRev {
			continue
		}
		if hasMax && o.ExpectedRevenue > maxRev {
			continue
		}
		matched = append(matched, *o)
	}
	s.mu.RUnlock()
	return c.JSON(httpx.StatusOK, paginate(matched, queryInt(c, "page", 1), queryInt(c, "pageSize", 10)))
}

func (s *Server) createOpportunity(c httpx.Context) error {
	var in opportunity
	if err := c.Bind(&in); err != nil {
		return httpx.HTTPError(httpx.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(in.Name) == "" {
		return httpx.HTTPError(httpx.StatusBadRequest, "name is required")
	}
	now := s.cfg.Now()
	s.mu.Lock()
	in.ID = s.nextID("opp")
	if in.Stage == "" {
		in.Stage = "prospecting"
	}
	if in.Owner.ID == "" {
		owner, _ := c.Request().Context().Value(ctxKey{}).(string)
		in.Owner = party{ID: owner, Name: owner}
	}
	in.CreatedAt, in.UpdatedAt = now, now
	s.opportunities = append(s.opportunities, &in)
	s.mu.Unlock()
	return c.JSON(httpx.StatusCreated, in)
}

func (s *Server) updateOpportunity(c httpx.Context) error {
	var in opportunity
	if err := c.Bind(&in); err != nil {
		return httpx.HTTPError(httpx.StatusBadRequest, "invalid body")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.findOpportunity(c.Param("id"))
	if !ok {
		return httpx.HTTPError(httpx.StatusNotFound, "opportunity not found")
	}
	mergeString(&o.Name, in.Name)
	mergeString(&o.Description, in.Description)
	mergeString(&o.Stage, in.Stage)
	if in.ExpectedRevenue != 0 {
		o.ExpectedRevenue = in.ExpectedRevenue
	}
	if in.Probability != 0 {
		o.Probability = in.Probability
	}
	if in.Customer.ID != "" {
		o.Customer = in.Customer
	}
	o.UpdatedAt = s.cfg.Now()
	return c.JSON(httpx.StatusOK, o)
}

func (s *Server) opportunityTimeline(c httpx.Context, kinds ...string) error {
	s.mu.RLock()
	o, ok := s.findOpportunity(c.Param("id"))
	s.mu.RUnlock()
	if !ok {
		return httpx.HTTPError(httpx.StatusNotFound, "opportunity not found")
	}
	out := make([]map[string]any, 0, len(kinds))
	for i, kind := range kinds {
		out = append(out, map[string]any{
			"id":            o.ID + "_" + strconv.Itoa(i+1),
			"opportunityId": o.ID,
			"type":          kind,
			"occurredAt":    o.CreatedAt.Add(time.Duration(i+1) * 24 * time.Hour),
		})
	}
	return c.JSON(httpx.StatusOK, out)
}

func (s *Server) opportunityInteractions(c httpx.Context) error {
	return s.opportunityTimeline(c, "call", "meeting")
}

func (s *Server) opportunityCommunications(c httpx.Context) error {
	return s.opportunityTimeline(c, "email", "email", "sms")
}

// Campaigns

func (s *Server) findCampaign(id string) (*campaign, bool) {
	for _, cp := range s.campaigns {
		if cp.ID == id {
			return cp, true
		}
	}
	return nil, false
}

func (s *Server) listCampaigns(c httpx.Context) error {
	s.mu.RLock()
	out := make([]campaign, 0, len(s.campaigns))
	for _, cp := range s.campaigns {
		out = append(out, *cp)
	}
	s.mu.RUnlock()
	return c.JSON(httpx.StatusOK, out)
}

func (s *Server) createCampaign(c httpx.Context) error {
	var in campaign
	if err := c.Bind(&in); err != nil {
		return httpx.HTTPError(httpx.StatusBadRequest, "invalid body")
	}
	if strings.TrimSpace(in.Name) == "" {
		return httpx.HTTPError(httpx.StatusBadRequest, "name is required")
	}
	s.mu.Lock()
	in.ID = s.nextID("camp")
	if in.Status == "" {
		in.Status = "draft"
	}
	in.CreatedAt = s.cfg.Now()
	s.campaigns = append(s.campaigns, &in)
	s.mu.Unlock()
	return c.JSON(httpx.StatusCreated, in)
}

// campaignStats derives stable numbers from the budget so reports are repeatable.
func campaignStats(cp *campaign) (sent, opened, clicked, converted int) {
	sent = int(math.Max(100, cp.Budget))
	opened = sent * 40 / 100
	clicked = opened * 25 / 100
	converted = clicked * 10 / 100
	return
}

func (s *Server) campaignReport(c httpx.Context) error {
	s.mu.RLock()
	cp, ok := s.findCampaign(c.Param("id"))
	s.mu.RUnlock()
	if !ok {
		return httpx.HTTPError(httpx.StatusNotFound, "campaign not found")
	}
	sent, opened, clicked, converted := campaignStats(cp)
	return c.JSON(httpx.StatusOK, map[string]any{
		"campaignId": cp.ID,
		"sent":       sent,
		"opened":     opened,
		"clicked":    clicked,
		"converted":  converted,
	})
}

func (s *Server) campaignAnalytics(c httpx.Context) error {
	s.mu.RLock()
	cp, ok := s.findCampaign(c.Param("id"))
	s.mu.RUnlock()
	if !ok {
		return httpx.HTTPError(httpx.StatusNotFound, "campaign not found")
	}
	sent, opened, clicked, converted := campaignStats(cp)
	return c.JSON(httpx.StatusOK, map[string]any{
		"campaignId":     cp.ID,
		"openRate":       float64(opened) / float64(sent),
		"clickRate":      float64(clicked) / float64(sent),
		"conversionRate": float64(converted) / float64(sent),
	})
}

func (s *Server) campaignAutomation(c httpx.Context) error {
	var in struct {
		Rules []map[string]any `json:"rules"`
	}
	if err := c.Bind(&in); err != nil {
		return httpx.HTTPError(httpx.StatusBadRequest, "invalid body")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.findCampaign(c.Param("id"))
	if !ok {
		return httpx.HTTPError(httpx.StatusNotFound, "campaign not found")
	}
	cp.Rules = in.Rules
	return c.JSON(httpx.StatusOK, map[string]any{"campaignId": cp.ID, "rules": cp.Rules, "saved": true})
}
