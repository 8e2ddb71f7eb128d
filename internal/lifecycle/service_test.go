package lifecycle

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sentinelops/internal/audit"
	"sentinelops/internal/autorule"
	"sentinelops/internal/domain"
	"sentinelops/internal/errs"
	"sentinelops/internal/escalation"
	"sentinelops/internal/matcher"
	"sentinelops/internal/metrics"
	"sentinelops/internal/statemachine"
	"sentinelops/internal/validation"
)

var serviceTime = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type memIncidents struct {
	byID map[string]*domain.Incident
}

func newMemIncidents() *memIncidents { return &memIncidents{byID: map[string]*domain.Incident{}} }

func (s *memIncidents) Get(ctx context.Context, id string) (*domain.Incident, error) {
	incident, ok := s.byID[id]
	if !ok {
		return nil, &errs.NotFoundError{EntityType: "incident", EntityID: id}
	}
	copied := *incident
	return &copied, nil
}

func (s *memIncidents) Insert(ctx context.Context, incident *domain.Incident) error {
	copied := *incident
	s.byID[incident.ID] = &copied
	return nil
}

func (s *memIncidents) Save(ctx context.Context, incident *domain.Incident) error {
	stored, ok := s.byID[incident.ID]
	if !ok {
		return &errs.NotFoundError{EntityType: "incident", EntityID: incident.ID}
	}
	if stored.Version != incident.Version {
		return &errs.ConflictError{EntityType: "incident", EntityID: incident.ID}
	}
	incident.Version++
	copied := *incident
	s.byID[incident.ID] = &copied
	return nil
}

func (s *memIncidents) DueForEscalation(ctx context.Context, now time.Time) ([]*domain.Incident, error) {
	var due []*domain.Incident
	for _, incident := range s.byID {
		if incident.EscalationTime != nil && !incident.EscalationTime.After(now) {
			copied := *incident
			due = append(due, &copied)
		}
	}
	return due, nil
}

type memActivities struct {
	byID map[string]*domain.Activity
}

func newMemActivities() *memActivities { return &memActivities{byID: map[string]*domain.Activity{}} }

func (s *memActivities) Get(ctx context.Context, id string) (*domain.Activity, error) {
	activity, ok := s.byID[id]
	if !ok {
		return nil, &errs.NotFoundError{EntityType: "activity", EntityID: id}
	}
	copied := *activity
	return &copied, nil
}

func (s *memActivities) Insert(ctx context.Context, activity *domain.Activity) error {
	copied := *activity
	s.byID[activity.ID] = &copied
	return nil
}

func (s *memActivities) Save(ctx context.Context, activity *domain.Activity) error {
	if _, ok := s.byID[activity.ID]; !ok {
		return &errs.NotFoundError{EntityType: "activity", EntityID: activity.ID}
	}
	copied := *activity
	s.byID[activity.ID] = &copied
	return nil
}

func (s *memActivities) RecentSince(ctx context.Context, cutoff time.Time) ([]*domain.Activity, error) {
	var recent []*domain.Activity
	for _, activity := range s.byID {
		if !activity.OccurredAt.Before(cutoff) {
			copied := *activity
			recent = append(recent, &copied)
		}
	}
	return recent, nil
}

type memBOLs struct {
	byID       map[string]*domain.BOLAlert
	conflictOn map[string]bool
}

func newMemBOLs() *memBOLs {
	return &memBOLs{byID: map[string]*domain.BOLAlert{}, conflictOn: map[string]bool{}}
}

func (s *memBOLs) Get(ctx context.Context, id string) (*domain.BOLAlert, error) {
	bol, ok := s.byID[id]
	if !ok {
		return nil, &errs.NotFoundError{EntityType: "bol_alert", EntityID: id}
	}
	copied := *bol
	return &copied, nil
}

func (s *memBOLs) Insert(ctx context.Context, bol *domain.BOLAlert) error {
	copied := *bol
	s.byID[bol.ID] = &copied
	return nil
}

func (s *memBOLs) Save(ctx context.Context, bol *domain.BOLAlert) error {
	if s.conflictOn[bol.ID] {
		return &errs.ConflictError{EntityType: "bol_alert", EntityID: bol.ID}
	}
	if _, ok := s.byID[bol.ID]; !ok {
		return &errs.NotFoundError{EntityType: "bol_alert", EntityID: bol.ID}
	}
	bol.Version++
	copied := *bol
	s.byID[bol.ID] = &copied
	return nil
}

func (s *memBOLs) ActiveAutoMatch(ctx context.Context, now time.Time) ([]*domain.BOLAlert, error) {
	var active []*domain.BOLAlert
	for _, bol := range s.byID {
		if bol.Status == domain.BOLActive && bol.AutoMatchEnabled && bol.ExpiresAt.After(now) {
			copied := *bol
			active = append(active, &copied)
		}
	}
	return active, nil
}

func (s *memBOLs) ExpiredActive(ctx context.Context, now time.Time) ([]*domain.BOLAlert, error) {
	var expired []*domain.BOLAlert
	for _, bol := range s.byID {
		if bol.Status == domain.BOLActive && bol.ExpiresAt.Before(now) {
			copied := *bol
			expired = append(expired, &copied)
		}
	}
	return expired, nil
}

type memAuditStore struct {
	entries []*domain.AuditEntry
}

func (s *memAuditStore) Insert(ctx context.Context, entry *domain.AuditEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *memAuditStore) List(ctx context.Context, filter audit.Filter) ([]*domain.AuditEntry, error) {
	return s.entries, nil
}

func (s *memAuditStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (s *memAuditStore) actions() []domain.AuditAction {
	var actions []domain.AuditAction
	for _, e := range s.entries {
		actions = append(actions, e.Action)
	}
	return actions
}

type capturedEvent struct {
	Type     string
	EntityID string
}

type capturingPublisher struct {
	events []capturedEvent
}

func (p *capturingPublisher) Publish(ctx context.Context, eventType, entityType, entityID string, payload any) {
	p.events = append(p.events, capturedEvent{Type: eventType, EntityID: entityID})
}

func (p *capturingPublisher) types() []string {
	var types []string
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

type fixtures struct {
	clock      *fakeClock
	incidents  *memIncidents
	activities *memActivities
	bols       *memBOLs
	auditStore *memAuditStore
	publisher  *capturingPublisher
	collector  *metrics.Collector
}

func newTestService(t *testing.T) (*Service, *fixtures) {
	t.Helper()
	f := &fixtures{
		clock:      &fakeClock{now: serviceTime},
		incidents:  newMemIncidents(),
		activities: newMemActivities(),
		bols:       newMemBOLs(),
		auditStore: &memAuditStore{},
		publisher:  &capturingPublisher{},
		collector:  metrics.NewCollector(prometheus.NewRegistry()),
	}
	logger := slog.Default()
	recorder := audit.New(logger, f.auditStore, f.clock, time.Hour, prometheus.NewRegistry())
	service := New(
		logger,
		f.clock,
		Config{},
		validation.New(),
		statemachine.New(logger, statemachine.DefaultRules()),
		autorule.New(logger, autorule.DefaultRules(autorule.DefaultPolicyThresholds()), autorule.Options{BusinessHoursStart: 8, BusinessHoursEnd: 18}),
		matcher.New(0.6, time.Minute),
		escalation.New(escalation.DefaultWindows()),
		recorder,
		f.collector,
		f.incidents,
		f.activities,
		f.bols,
		f.publisher,
	)
	return service, f
}

func officer() domain.ActorContext {
	return domain.ActorContext{UserID: "u-1", UserName: "Officer One", UserRole: domain.RoleOfficer}
}

func dispatcher() domain.ActorContext {
	return domain.ActorContext{UserID: "u-2", UserName: "Dispatch Two", UserRole: domain.RoleDispatcher}
}

func supervisor() domain.ActorContext {
	return domain.ActorContext{UserID: "u-3", UserName: "Super Three", UserRole: domain.RoleSupervisor}
}

func seedActivity(f *fixtures, id, description string) *domain.Activity {
	activity := &domain.Activity{
		ID:          id,
		Type:        domain.ActivityAlert,
		Priority:    domain.PriorityMedium,
		Status:      domain.ActivityStatusReported,
		Description: description,
		Location:    domain.Location{Site: "North Campus", Building: "Building A"},
		OccurredAt:  serviceTime.Add(-30 * time.Minute),
		CreatedAt:   serviceTime.Add(-30 * time.Minute),
		UpdatedAt:   serviceTime.Add(-30 * time.Minute),
		Version:     1,
	}
	f.activities.byID[id] = activity
	return activity
}

func seedBOL(f *fixtures, id string) *domain.BOLAlert {
	bol := &domain.BOLAlert{
		ID:       id,
		Title:    "Suspect in red jacket",
		Type:     domain.BOLPerson,
		Priority: domain.PriorityHigh,
		Status:   domain.BOLActive,
		GeographicScope: domain.GeographicScope{
			Sites:     []string{"North Campus"},
			Buildings: []string{"Building A"},
		},
		PhysicalDescriptors: []string{"red jacket"},
		ConfidenceThreshold: 0.6,
		AutoMatchEnabled:    true,
		ExpiresAt:           serviceTime.Add(48 * time.Hour),
		CreatedAt:           serviceTime.Add(-time.Hour),
		UpdatedAt:           serviceTime.Add(-time.Hour),
		Version:             1,
	}
	f.bols.byID[id] = bol
	return bol
}

func TestCreateIncidentDefaultsAndEscalation(t *testing.T) {
	service, f := newTestService(t)

	incident, err := service.CreateIncident(context.Background(), CreateIncidentInput{
		Title:    "Suspicious person report",
		Priority: domain.PriorityCritical,
	}, officer())
	require.NoError(t, err)

	assert.Equal(t, domain.IncidentGeneral, incident.Type)
	assert.Equal(t, domain.IncidentPending, incident.Status)
	assert.Equal(t, 1, incident.Version)
	assert.Equal(t, "u-1", incident.CreatedBy)

	require.NotNil(t, incident.EscalationTime)
	assert.Equal(t, serviceTime.Add(15*time.Minute), *incident.EscalationTime)
	assert.Equal(t, domain.RoleSupervisor, incident.EscalationTarget)

	assert.Contains(t, f.auditStore.actions(), domain.AuditCreate)
	assert.Contains(t, f.publisher.types(), EventIncidentCreated)
	assert.Contains(t, f.incidents.byID, incident.ID)
}

func TestCreateIncidentValidationFailure(t *testing.T) {
	service, f := newTestService(t)

	_, err := service.CreateIncident(context.Background(), CreateIncidentInput{Title: "ab"}, officer())
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Empty(t, f.incidents.byID)
	assert.Empty(t, f.publisher.events)
}

func TestUpdateIncidentRecordsFieldChanges(t *testing.T) {
	service, f := newTestService(t)

	incident, err := service.CreateIncident(context.Background(), CreateIncidentInput{Title: "Broken window"}, officer())
	require.NoError(t, err)

	title := "Broken window, east wing"
	updated, err := service.UpdateIncident(context.Background(), incident.ID, UpdateIncidentInput{
		Title:  &title,
		Reason: "clarified location",
	}, officer())
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)

	last := f.auditStore.entries[len(f.auditStore.entries)-1]
	assert.Equal(t, domain.AuditUpdate, last.Action)
	require.Len(t, last.Changes, 1)
	assert.Equal(t, "title", last.Changes[0].Field)

	// An empty patch is a no-op with no audit entry.
	before := len(f.auditStore.entries)
	_, err = service.UpdateIncident(context.Background(), incident.ID, UpdateIncidentInput{}, officer())
	require.NoError(t, err)
	assert.Len(t, f.auditStore.entries, before)
}

func TestTransitionIncidentStatus(t *testing.T) {
	service, f := newTestService(t)

	incident, err := service.CreateIncident(context.Background(), CreateIncidentInput{Title: "Loitering report"}, officer())
	require.NoError(t, err)

	active, err := service.TransitionIncidentStatus(context.Background(), incident.ID, domain.IncidentActive, officer(), "responding")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentActive, active.Status)
	require.NotEmpty(t, active.EscalationHistory)
	assert.Equal(t, string(domain.IncidentPending), active.EscalationHistory[0].FromStatus)

	// Medium priority active incidents pick up the standing 60 minute window.
	require.NotNil(t, active.EscalationTime)
	assert.Equal(t, serviceTime.Add(60*time.Minute), *active.EscalationTime)

	_, err = service.TransitionIncidentStatus(context.Background(), incident.ID, domain.IncidentClosed, dispatcher(), "done")
	require.Error(t, err)
	assert.True(t, errs.IsUnauthorizedTransition(err))

	// The rejected transition left the stored incident untouched.
	stored, err := f.incidents.Get(context.Background(), incident.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentActive, stored.Status)
}

func TestEscalate(t *testing.T) {
	service, f := newTestService(t)

	incident, err := service.CreateIncident(context.Background(), CreateIncidentInput{Title: "Alarm tripped"}, officer())
	require.NoError(t, err)
	_, err = service.TransitionIncidentStatus(context.Background(), incident.ID, domain.IncidentActive, officer(), "")
	require.NoError(t, err)

	escalated, err := service.Escalate(context.Background(), incident.ID, domain.RoleSupervisor, "no response", dispatcher())
	require.NoError(t, err)
	assert.Equal(t, domain.RoleSupervisor, escalated.EscalationTarget)
	assert.Contains(t, f.publisher.types(), EventIncidentEscalated)
	assert.Contains(t, f.auditStore.actions(), domain.AuditEscalate)

	// The next window is rescheduled from now, not left at the stale due time.
	require.NotNil(t, escalated.EscalationTime)
	assert.True(t, escalated.EscalationTime.After(serviceTime))
}

func TestEscalateRejectsSettledIncidents(t *testing.T) {
	service, f := newTestService(t)

	incident, err := service.CreateIncident(context.Background(), CreateIncidentInput{Title: "Resolved case"}, officer())
	require.NoError(t, err)
	stored := f.incidents.byID[incident.ID]
	stored.Status = domain.IncidentResolved

	_, err = service.Escalate(context.Background(), incident.ID, domain.RoleSupervisor, "", dispatcher())
	require.Error(t, err)
	assert.True(t, errs.IsBusinessRule(err))
}

func TestLinkActivity(t *testing.T) {
	service, f := newTestService(t)

	incident, err := service.CreateIncident(context.Background(), CreateIncidentInput{Title: "Vandalism report"}, officer())
	require.NoError(t, err)
	seedActivity(f, "11111111-2222-4333-8444-555555555555", "graffiti on wall")

	linked, err := service.LinkActivity(context.Background(), incident.ID, "11111111-2222-4333-8444-555555555555", "", officer())
	require.NoError(t, err)
	assert.Equal(t, []string{"11111111-2222-4333-8444-555555555555"}, linked.ActivityIDs)

	activity := f.activities.byID["11111111-2222-4333-8444-555555555555"]
	require.Len(t, activity.IncidentContexts, 1)
	assert.Equal(t, domain.ContextRelated, activity.IncidentContexts[0].Role)

	// Linking again is a no-op.
	linked, err = service.LinkActivity(context.Background(), incident.ID, "11111111-2222-4333-8444-555555555555", domain.ContextRelated, officer())
	require.NoError(t, err)
	assert.Len(t, linked.ActivityIDs, 1)
}

func TestLinkActivityRejectsArchived(t *testing.T) {
	service, f := newTestService(t)

	incident, err := service.CreateIncident(context.Background(), CreateIncidentInput{Title: "Cold case"}, officer())
	require.NoError(t, err)
	archived := seedActivity(f, "11111111-2222-4333-8444-555555555555", "old sighting")
	archived.Status = domain.ActivityStatusArchived

	_, err = service.LinkActivity(context.Background(), incident.ID, archived.ID, "", officer())
	require.Error(t, err)
	assert.True(t, errs.IsBusinessRule(err))
}

func TestDeleteIncidentIsIdempotentSoftDelete(t *testing.T) {
	service, f := newTestService(t)

	incident, err := service.CreateIncident(context.Background(), CreateIncidentInput{Title: "Duplicate report"}, officer())
	require.NoError(t, err)
	_, err = service.TransitionIncidentStatus(context.Background(), incident.ID, domain.IncidentActive, officer(), "")
	require.NoError(t, err)

	closed, err := service.DeleteIncident(context.Background(), incident.ID, supervisor(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentClosed, closed.Status)

	// Deleting again returns the closed incident without another transition.
	history := len(closed.EscalationHistory)
	again, err := service.DeleteIncident(context.Background(), incident.ID, supervisor(), "")
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentClosed, again.Status)
	assert.Len(t, again.EscalationHistory, history)

	// Still loadable after the soft delete.
	assert.Contains(t, f.incidents.byID, incident.ID)
}

func TestCreateBOLDefaultsExpiryFromPriority(t *testing.T) {
	service, _ := newTestService(t)

	bol, outcomes, err := service.CreateBOL(context.Background(), CreateBOLInput{
		Title:           "Watch for grey van",
		Type:            domain.BOLVehicle,
		Priority:        domain.PriorityHigh,
		GeographicScope: domain.GeographicScope{Sites: []string{"North Campus"}},
		Vehicle:         &domain.VehicleDetails{LicensePlate: "XYZ 789"},
	}, dispatcher())
	require.NoError(t, err)
	assert.Empty(t, outcomes)

	assert.Equal(t, domain.BOLActive, bol.Status)
	assert.Equal(t, serviceTime.Add(48*time.Hour), bol.ExpiresAt)
	assert.Equal(t, 0.6, bol.ConfidenceThreshold)
}

func TestCreateBOLRetroScansRecentActivities(t *testing.T) {
	service, f := newTestService(t)
	seedActivity(f, "11111111-2222-4333-8444-555555555555", "person in red jacket near entrance")

	bol, outcomes, err := service.CreateBOL(context.Background(), CreateBOLInput{
		Title:    "Suspect in red jacket",
		Type:     domain.BOLPerson,
		Priority: domain.PriorityHigh,
		GeographicScope: domain.GeographicScope{
			Sites:     []string{"North Campus"},
			Buildings: []string{"Building A"},
		},
		PhysicalDescriptors: []string{"red jacket"},
		AutoMatchEnabled:    true,
	}, dispatcher())
	require.NoError(t, err)

	require.Len(t, outcomes, 1)
	assert.Equal(t, "11111111-2222-4333-8444-555555555555", outcomes[0].ActivityID)
	assert.GreaterOrEqual(t, outcomes[0].Confidence, 0.6)

	stored := f.bols.byID[bol.ID]
	assert.Equal(t, domain.BOLMatched, stored.Status)
	require.Len(t, stored.MatchHistory, 1)
	assert.Contains(t, f.publisher.types(), EventBOLMatched)
}

func TestMatchActivityManualBypassesScoring(t *testing.T) {
	service, f := newTestService(t)
	seedBOL(f, "bol-1")
	seedActivity(f, "11111111-2222-4333-8444-555555555555", "nothing that would score")

	outcome, err := service.MatchActivity(context.Background(), "bol-1", "11111111-2222-4333-8444-555555555555", dispatcher(), true)
	require.NoError(t, err)
	assert.True(t, outcome.Matched)
	assert.True(t, outcome.Manual)
	assert.Equal(t, 1.0, outcome.Confidence)

	stored := f.bols.byID["bol-1"]
	assert.Equal(t, domain.BOLMatched, stored.Status)
	require.Len(t, stored.MatchHistory, 1)
	assert.True(t, stored.MatchHistory[0].Manual)

	// A second match appends history without re-transitioning.
	outcome, err = service.MatchActivity(context.Background(), "bol-1", "11111111-2222-4333-8444-555555555555", dispatcher(), true)
	require.NoError(t, err)
	assert.True(t, outcome.Matched)
	assert.Len(t, f.bols.byID["bol-1"].MatchHistory, 2)
}

func TestMatchActivityBelowThresholdLeavesAlertOpen(t *testing.T) {
	service, f := newTestService(t)
	seedBOL(f, "bol-1")
	activity := seedActivity(f, "11111111-2222-4333-8444-555555555555", "unrelated noise complaint")
	activity.Location = domain.Location{Site: "South Campus"}
	activity.OccurredAt = serviceTime.Add(-3 * 24 * time.Hour)

	outcome, err := service.MatchActivity(context.Background(), "bol-1", activity.ID, dispatcher(), false)
	require.NoError(t, err)
	assert.False(t, outcome.Matched)
	assert.Equal(t, domain.BOLActive, f.bols.byID["bol-1"].Status)
	assert.Empty(t, f.bols.byID["bol-1"].MatchHistory)
}

func TestMatchActivityRejectsSettledAlert(t *testing.T) {
	service, f := newTestService(t)
	bol := seedBOL(f, "bol-1")
	bol.Status = domain.BOLCancelled
	seedActivity(f, "11111111-2222-4333-8444-555555555555", "red jacket")

	_, err := service.MatchActivity(context.Background(), "bol-1", "11111111-2222-4333-8444-555555555555", dispatcher(), true)
	require.Error(t, err)
	assert.True(t, errs.IsBusinessRule(err))
}

func TestSweepExpiredBOLs(t *testing.T) {
	service, f := newTestService(t)

	overdue := seedBOL(f, "bol-1")
	overdue.ExpiresAt = serviceTime.Add(-time.Hour)

	contested := seedBOL(f, "bol-2")
	contested.ExpiresAt = serviceTime.Add(-time.Hour)
	f.bols.conflictOn["bol-2"] = true

	current := seedBOL(f, "bol-3")
	current.ExpiresAt = serviceTime.Add(time.Hour)

	expired, err := service.SweepExpiredBOLs(context.Background(), serviceTime)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "bol-1", expired[0].ID)
	assert.Equal(t, domain.BOLExpired, expired[0].Status)
	assert.Contains(t, f.publisher.types(), EventBOLExpired)

	// The conflicted and the still-current alerts are untouched.
	assert.Equal(t, domain.BOLActive, f.bols.byID["bol-2"].Status)
	assert.Equal(t, domain.BOLActive, f.bols.byID["bol-3"].Status)
}

func TestEvaluateActivityAutoCreatesMedicalIncident(t *testing.T) {
	service, f := newTestService(t)

	activity := &domain.Activity{
		ID:          "22222222-3333-4444-8555-666666666666",
		Type:        domain.ActivityMedical,
		Priority:    domain.PriorityMedium,
		Description: "person collapsed near lobby",
		Location:    domain.Location{Site: "North Campus"},
		OccurredAt:  serviceTime.Add(-5 * time.Minute),
	}

	evaluation, err := service.EvaluateActivity(context.Background(), activity, SystemActor)
	require.NoError(t, err)
	assert.True(t, evaluation.RuleFired)
	require.NotNil(t, evaluation.IncidentCreated)

	incident := evaluation.IncidentCreated
	assert.Equal(t, domain.IncidentMedicalEmergency, incident.Type)
	assert.Equal(t, domain.PriorityCritical, incident.Priority)
	assert.True(t, incident.AutoCreated)
	assert.False(t, incident.RequiresValidation)
	assert.Equal(t, []string{activity.ID}, incident.ActivityIDs)
	require.NotNil(t, incident.EscalationTime)

	// The triggering activity is persisted and back-linked.
	stored := f.activities.byID[activity.ID]
	require.NotNil(t, stored)
	require.Len(t, stored.IncidentContexts, 1)
	assert.Equal(t, domain.ContextTrigger, stored.IncidentContexts[0].Role)

	assert.Contains(t, f.publisher.types(), EventIncidentCreated)
	assert.Contains(t, f.publisher.types(), EventActivityEvaluated)
}

func TestEvaluateActivityScansActiveBOLs(t *testing.T) {
	service, f := newTestService(t)
	seedBOL(f, "bol-1")

	activity := &domain.Activity{
		ID:          "22222222-3333-4444-8555-666666666666",
		Type:        domain.ActivityPatrol,
		Priority:    domain.PriorityLow,
		Description: "red jacket spotted during patrol",
		Location:    domain.Location{Site: "North Campus", Building: "Building A"},
		OccurredAt:  serviceTime.Add(-10 * time.Minute),
	}

	evaluation, err := service.EvaluateActivity(context.Background(), activity, SystemActor)
	require.NoError(t, err)
	assert.False(t, evaluation.RuleFired)
	assert.Equal(t, 1, evaluation.BOLsScanned)
	require.Len(t, evaluation.Matches, 1)
	assert.Equal(t, "bol-1", evaluation.Matches[0].BOLID)
	assert.Equal(t, domain.BOLMatched, f.bols.byID["bol-1"].Status)
}

func TestEvaluateActivityRejectsInvalidInput(t *testing.T) {
	service, f := newTestService(t)

	_, err := service.EvaluateActivity(context.Background(), &domain.Activity{}, SystemActor)
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
	assert.Empty(t, f.activities.byID)
}

func TestEvaluateActivityIsIdempotentForDuplicateDelivery(t *testing.T) {
	service, f := newTestService(t)

	activity := &domain.Activity{
		ID:          "22222222-3333-4444-8555-666666666666",
		Type:        domain.ActivityPatrol,
		Priority:    domain.PriorityLow,
		Description: "routine walkthrough",
		Location:    domain.Location{Site: "North Campus"},
		OccurredAt:  serviceTime.Add(-10 * time.Minute),
	}

	_, err := service.EvaluateActivity(context.Background(), activity, SystemActor)
	require.NoError(t, err)
	created := len(f.auditStore.entries)

	redelivered := *activity
	_, err = service.EvaluateActivity(context.Background(), &redelivered, SystemActor)
	require.NoError(t, err)

	// The second delivery found the stored activity and ingested nothing new.
	assert.Len(t, f.activities.byID, 1)
	assert.Equal(t, created, len(f.auditStore.entries))
}

func TestSweepDueEscalations(t *testing.T) {
	service, _ := newTestService(t)

	incident, err := service.CreateIncident(context.Background(), CreateIncidentInput{
		Title:    "Unattended for too long",
		Priority: domain.PriorityCritical,
	}, officer())
	require.NoError(t, err)

	due, err := service.SweepDueEscalations(context.Background(), serviceTime.Add(20*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, incident.ID, due[0].ID)

	// Before the window elapses nothing is due.
	due, err = service.SweepDueEscalations(context.Background(), serviceTime.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestIncidentLifecycleRecordsMetrics(t *testing.T) {
	service, f := newTestService(t)

	incident, err := service.CreateIncident(context.Background(), CreateIncidentInput{
		Title:    "Alarm tripped",
		Priority: domain.PriorityCritical,
	}, officer())
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.IncidentsCreated.WithLabelValues(
		string(domain.IncidentGeneral), string(domain.PriorityCritical), "manual")))

	_, err = service.TransitionIncidentStatus(context.Background(), incident.ID, domain.IncidentActive, officer(), "responding")
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.Transitions.WithLabelValues(
		statemachine.EntityIncident, string(domain.IncidentPending), string(domain.IncidentActive))))

	_, err = service.TransitionIncidentStatus(context.Background(), incident.ID, domain.IncidentClosed, dispatcher(), "done")
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.TransitionsRejected.WithLabelValues(
		statemachine.EntityIncident, "unauthorized")))

	// Sweep-driven escalations go through the same service path as the API,
	// so the counter covers both.
	_, err = service.Escalate(context.Background(), incident.ID, domain.RoleSupervisor, "no response", SystemActor)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.Escalations))
}

func TestEvaluateActivityRecordsMetrics(t *testing.T) {
	service, f := newTestService(t)
	seedBOL(f, "bol-1")

	activity := &domain.Activity{
		ID:          "22222222-3333-4444-8555-666666666666",
		Type:        domain.ActivityMedical,
		Priority:    domain.PriorityMedium,
		Description: "person in red jacket collapsed near lobby",
		Location:    domain.Location{Site: "North Campus", Building: "Building A"},
		OccurredAt:  serviceTime.Add(-5 * time.Minute),
	}

	evaluation, err := service.EvaluateActivity(context.Background(), activity, SystemActor)
	require.NoError(t, err)
	require.True(t, evaluation.RuleFired)
	require.Len(t, evaluation.Matches, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.ActivitiesEvaluated))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.RuleFires.WithLabelValues("auto-medical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.IncidentsCreated.WithLabelValues(
		string(domain.IncidentMedicalEmergency), string(domain.PriorityCritical), "auto")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.BOLMatches.WithLabelValues("auto")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.collector.Transitions.WithLabelValues(
		statemachine.EntityBOLAlert, string(domain.BOLActive), string(domain.BOLMatched))))
}
