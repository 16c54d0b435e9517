package decision

import (
	"context"
	"fmt"
	"testing"
	"time"

	"coldreach/apperr"
	"coldreach/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:decision_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Decision{}, &models.SafetyGateLog{}))
	return db
}

type recordingNotifier struct {
	notified []uint
}

func (n *recordingNotifier) Notify(d *models.Decision) {
	n.notified = append(n.notified, d.ID)
}

func TestEnqueueGateZeroAutoExecutes(t *testing.T) {
	svc := NewService(newTestDB(t), nil, nil)

	d, err := svc.Enqueue(EnqueueInput{
		Title:          "log something",
		Category:       models.CategoryProduct,
		Urgency:        models.UrgencyLow,
		SafetyGate:     models.GateAutoLog,
		ProposedAction: map[string]string{"k": "v"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.DecisionAutoExecuted, d.Status)
	assert.NotNil(t, d.ResolvedAt)
	assert.Nil(t, d.ScheduledFor)

	var logs []models.SafetyGateLog
	require.NoError(t, svc.DB.Where("decision_id = ?", d.ID).Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, models.DecisionAutoExecuted, logs[0].ToStatus)
}

func TestEnqueueGateOneNotifies(t *testing.T) {
	notifier := &recordingNotifier{}
	svc := NewService(newTestDB(t), nil, notifier)

	d, err := svc.Enqueue(EnqueueInput{
		Title:          "notify admins",
		Category:       models.CategoryRetention,
		Urgency:        models.UrgencyLow,
		SafetyGate:     models.GateAutoNotify,
		ProposedAction: map[string]string{},
	})
	require.NoError(t, err)

	assert.Equal(t, models.DecisionAutoExecuted, d.Status)
	assert.Equal(t, []uint{d.ID}, notifier.notified)
}

func TestEnqueueGateTwoSchedules(t *testing.T) {
	svc := NewService(newTestDB(t), nil, nil)

	before := time.Now()
	d, err := svc.Enqueue(EnqueueInput{
		Title:          "delayed action",
		Category:       models.CategoryRevenue,
		Urgency:        models.UrgencyMedium,
		SafetyGate:     models.GateDelayedExecute,
		ProposedAction: map[string]string{},
	})
	require.NoError(t, err)

	assert.Equal(t, models.DecisionScheduled, d.Status)
	require.NotNil(t, d.ScheduledFor)
	assert.WithinDuration(t, before.Add(time.Hour), *d.ScheduledFor, 5*time.Second)
	require.NotNil(t, d.ExpiresAt)
	// Medium urgency expires after 7 days
	assert.WithinDuration(t, before.Add(7*24*time.Hour), *d.ExpiresAt, 5*time.Second)
}

func TestEnqueueGateFourStaysPending(t *testing.T) {
	svc := NewService(newTestDB(t), nil, nil)

	d, err := svc.Enqueue(EnqueueInput{
		Title:              "dangerous action",
		Category:           models.CategoryStrategic,
		Urgency:            models.UrgencyCritical,
		SafetyGate:         models.GateConfirmApproval,
		ProposedAction:     map[string]string{},
		ConfirmationPhrase: "yes delete everything",
	})
	require.NoError(t, err)

	assert.Equal(t, models.DecisionPending, d.Status)
	assert.Nil(t, d.ResolvedAt)
	require.NotNil(t, d.ExpiresAt)
}

func TestEnqueueRejectsInvalidGate(t *testing.T) {
	svc := NewService(newTestDB(t), nil, nil)

	_, err := svc.Enqueue(EnqueueInput{
		Title:      "bad gate",
		Category:   models.CategoryProduct,
		Urgency:    models.UrgencyLow,
		SafetyGate: 7,
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
}

func TestResolveApprovesPending(t *testing.T) {
	svc := NewService(newTestDB(t), nil, nil)

	d, err := svc.Enqueue(EnqueueInput{
		Title:          "needs approval",
		Category:       models.CategorySupport,
		Urgency:        models.UrgencyHigh,
		SafetyGate:     models.GateRequireApproval,
		ProposedAction: map[string]string{},
	})
	require.NoError(t, err)

	resolved, err := svc.Resolve(d.ID, models.DecisionApproved, map[string]string{"done": "yes"}, "user:1", "")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApproved, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)
	assert.Contains(t, resolved.Outcome, "done")
}

func TestResolveTwiceConflicts(t *testing.T) {
	svc := NewService(newTestDB(t), nil, nil)

	d, _ := svc.Enqueue(EnqueueInput{
		Title:          "single shot",
		Category:       models.CategorySupport,
		Urgency:        models.UrgencyHigh,
		SafetyGate:     models.GateRequireApproval,
		ProposedAction: map[string]string{},
	})

	_, err := svc.Resolve(d.ID, models.DecisionRejected, nil, "user:1", "")
	require.NoError(t, err)

	_, err = svc.Resolve(d.ID, models.DecisionApproved, nil, "user:2", "")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeStateConflict))
}

func TestResolveGateFourRequiresPhrase(t *testing.T) {
	svc := NewService(newTestDB(t), nil, nil)

	d, _ := svc.Enqueue(EnqueueInput{
		Title:              "confirm me",
		Category:           models.CategoryStrategic,
		Urgency:            models.UrgencyCritical,
		SafetyGate:         models.GateConfirmApproval,
		ProposedAction:     map[string]string{},
		ConfirmationPhrase: "proceed with shutdown",
	})

	_, err := svc.Resolve(d.ID, models.DecisionApproved, nil, "user:1", "wrong phrase")
	require.Error(t, err)

	// Rejection needs no phrase
	resolved, err := svc.Resolve(d.ID, models.DecisionRejected, nil, "user:1", "")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionRejected, resolved.Status)
}

func TestResolveGateFourWithCorrectPhrase(t *testing.T) {
	svc := NewService(newTestDB(t), nil, nil)

	d, _ := svc.Enqueue(EnqueueInput{
		Title:              "confirm me",
		Category:           models.CategoryStrategic,
		Urgency:            models.UrgencyCritical,
		SafetyGate:         models.GateConfirmApproval,
		ProposedAction:     map[string]string{},
		ConfirmationPhrase: "proceed with shutdown",
	})

	resolved, err := svc.Resolve(d.ID, models.DecisionApproved, nil, "user:1", "proceed with shutdown")
	require.NoError(t, err)
	assert.Equal(t, models.DecisionApproved, resolved.Status)
}

func TestMaintenanceExecutesDueScheduled(t *testing.T) {
	svc := NewService(newTestDB(t), nil, nil)

	d, _ := svc.Enqueue(EnqueueInput{
		Title:          "due now",
		Category:       models.CategoryRevenue,
		Urgency:        models.UrgencyMedium,
		SafetyGate:     models.GateDelayedExecute,
		ProposedAction: map[string]string{},
	})

	// Move the schedule into the past
	past := time.Now().Add(-time.Minute)
	require.NoError(t, svc.DB.Model(&models.Decision{}).Where("id = ?", d.ID).
		Update("scheduled_for", past).Error)

	require.NoError(t, svc.RunMaintenance(context.Background()))

	var after models.Decision
	require.NoError(t, svc.DB.First(&after, d.ID).Error)
	assert.Equal(t, models.DecisionAutoExecuted, after.Status)
	assert.NotNil(t, after.ResolvedAt)
}

func TestMaintenanceSkipsCancelledScheduled(t *testing.T) {
	svc := NewService(newTestDB(t), nil, nil)

	d, _ := svc.Enqueue(EnqueueInput{
		Title:          "cancelled before execution",
		Category:       models.CategoryRevenue,
		Urgency:        models.UrgencyMedium,
		SafetyGate:     models.GateDelayedExecute,
		ProposedAction: map[string]string{},
	})

	past := time.Now().Add(-time.Minute)
	require.NoError(t, svc.DB.Model(&models.Decision{}).Where("id = ?", d.ID).
		Update("scheduled_for", past).Error)

	// A reviewer rejects the scheduled decision before maintenance runs
	_, err := svc.Resolve(d.ID, models.DecisionRejected, nil, "user:1", "")
	require.NoError(t, err)

	require.NoError(t, svc.RunMaintenance(context.Background()))

	var after models.Decision
	require.NoError(t, svc.DB.First(&after, d.ID).Error)
	assert.Equal(t, models.DecisionRejected, after.Status)
}

func TestMaintenanceExpiresStale(t *testing.T) {
	svc := NewService(newTestDB(t), nil, nil)

	d, _ := svc.Enqueue(EnqueueInput{
		Title:          "stale decision",
		Category:       models.CategorySupport,
		Urgency:        models.UrgencyCritical,
		SafetyGate:     models.GateRequireApproval,
		ProposedAction: map[string]string{},
	})

	expired := time.Now().Add(-time.Hour)
	require.NoError(t, svc.DB.Model(&models.Decision{}).Where("id = ?", d.ID).
		Update("expires_at", expired).Error)

	require.NoError(t, svc.RunMaintenance(context.Background()))

	var after models.Decision
	require.NoError(t, svc.DB.First(&after, d.ID).Error)
	assert.Equal(t, models.DecisionExpired, after.Status)
}

func TestExpiryWindowsByUrgency(t *testing.T) {
	assert.Equal(t, 24*time.Hour, expiryForUrgency(models.UrgencyCritical))
	assert.Equal(t, 3*24*time.Hour, expiryForUrgency(models.UrgencyHigh))
	assert.Equal(t, 7*24*time.Hour, expiryForUrgency(models.UrgencyMedium))
	assert.Equal(t, 14*24*time.Hour, expiryForUrgency(models.UrgencyLow))
}
