package push

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dukerupert/crochetcal/internal/model"
	"github.com/dukerupert/crochetcal/internal/reminder"
)

const defaultPollInterval = 60 * time.Second

// LessonSource is the lesson store as seen by the scheduler.
type LessonSource interface {
	ListDueForReminder(windowStart, windowEnd string) ([]model.Lesson, error)
	GetByID(id int64) (*model.Lesson, error)
}

type ClientSource interface {
	GetByID(id int64) (*model.Client, error)
}

type SettingsSource interface {
	GetNotificationSettings() (*model.NotificationSettings, error)
}

// SentLedger records delivered reminders across restarts.
type SentLedger interface {
	WasSent(notifType string, refID int64, fireAt time.Time) (bool, error)
	RecordSent(notifType string, refID int64, fireAt time.Time) error
}

type Broadcaster interface {
	Broadcast(ctx context.Context, payload Payload) Result
}

// Stores groups the read models the scheduler depends on.
type Stores struct {
	Lessons  LessonSource
	Clients  ClientSource
	Settings SettingsSource
	Sent     SentLedger
}

type timer interface {
	Stop() bool
}

type ledgerKey struct {
	lessonID int64
	kind     reminder.Kind
}

type armedReminder struct {
	rem   reminder.Reminder
	timer timer
}

// Scheduler polls for upcoming lessons and arms a one-shot timer per
// reminder. At most one timer is armed per (lesson, kind).
type Scheduler struct {
	// pollMu serializes reading lessons with arming and pruning, so a poll
	// cannot undo a concurrent OnLessonChanged with a stale listing.
	pollMu sync.Mutex

	mu        sync.Mutex
	broadcast Broadcaster
	stores    Stores
	loc       *time.Location
	interval  time.Duration
	logger    *slog.Logger
	armed     map[ledgerKey]*armedReminder
	sendCtx   context.Context
	now       func() time.Time
	afterFunc func(d time.Duration, f func()) timer
	cancel    context.CancelFunc
	done      chan struct{}
	stopped   bool
	inflight  sync.WaitGroup
}

// NewScheduler creates a reminder scheduler. Lesson dates and times are read
// as wall clock in loc.
func NewScheduler(b Broadcaster, stores Stores, loc *time.Location, interval time.Duration, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		broadcast: b,
		stores:    stores,
		loc:       loc,
		interval:  interval,
		logger:    logger,
		armed:     make(map[ledgerKey]*armedReminder),
		sendCtx:   context.Background(),
		now:       time.Now,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
}

// Start begins the scheduler loop. The first poll runs immediately so a
// restart re-arms whatever is still due.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.sendCtx = ctx
	s.stopped = false
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.Tick()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick()
			}
		}
	}()
}

// Stop gracefully stops the scheduler, disarms every pending reminder and
// waits for deliveries already under way.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	s.mu.Lock()
	s.stopped = true
	for key, a := range s.armed {
		a.timer.Stop()
		delete(s.armed, key)
	}
	s.mu.Unlock()

	s.inflight.Wait()
}

// Tick runs one poll: arm reminders for lessons today and tomorrow and
// disarm those whose lesson has left the window.
func (s *Scheduler) Tick() {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	now := s.now().In(s.loc)
	start, end := s.window(now)

	settings, err := s.stores.Settings.GetNotificationSettings()
	if err != nil {
		s.logger.Error("load notification settings", "error", err)
		return
	}
	lessons, err := s.stores.Lessons.ListDueForReminder(start, end)
	if err != nil {
		s.logger.Error("list lessons due for reminder", "error", err)
		return
	}

	seen := make(map[int64]bool, len(lessons))
	for _, l := range lessons {
		seen[l.ID] = true
		s.evaluate(l, *settings, now)
	}

	s.mu.Lock()
	for key, a := range s.armed {
		if !seen[key.lessonID] {
			a.timer.Stop()
			delete(s.armed, key)
		}
	}
	s.mu.Unlock()
}

// OnLessonChanged re-evaluates a single lesson right after it was created or
// updated, without waiting for the next poll.
func (s *Scheduler) OnLessonChanged(l model.Lesson) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	now := s.now().In(s.loc)
	start, end := s.window(now)
	if l.Date < start || l.Date > end {
		s.disarm(l.ID)
		return
	}

	settings, err := s.stores.Settings.GetNotificationSettings()
	if err != nil {
		s.logger.Error("load notification settings", "lesson_id", l.ID, "error", err)
		return
	}
	s.evaluate(l, *settings, now)
}

// OnSettingsChanged re-runs a poll so toggled kinds or a moved day-of time
// take effect immediately.
func (s *Scheduler) OnSettingsChanged() {
	s.Tick()
}

// Forget disarms every reminder of a lesson.
func (s *Scheduler) Forget(lessonID int64) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	s.disarm(lessonID)
}

func (s *Scheduler) disarm(lessonID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kind := range reminder.Kinds {
		key := ledgerKey{lessonID, kind}
		if a, ok := s.armed[key]; ok {
			a.timer.Stop()
			delete(s.armed, key)
		}
	}
}

// Pending returns the armed reminders ordered by fire time.
func (s *Scheduler) Pending() []reminder.Reminder {
	s.mu.Lock()
	out := make([]reminder.Reminder, 0, len(s.armed))
	for _, a := range s.armed {
		out = append(out, a.rem)
	}
	s.mu.Unlock()

	slices.SortFunc(out, func(a, b reminder.Reminder) int {
		if c := a.FireAt.Compare(b.FireAt); c != 0 {
			return c
		}
		return cmp.Compare(a.LessonID, b.LessonID)
	})
	return out
}

func (s *Scheduler) window(now time.Time) (string, string) {
	return now.Format(model.DateLayout), now.AddDate(0, 0, 1).Format(model.DateLayout)
}

func (s *Scheduler) clientFor(l model.Lesson) (*model.Client, error) {
	if l.Client != nil {
		return l.Client, nil
	}
	return s.stores.Clients.GetByID(l.ClientID)
}

func (s *Scheduler) evaluate(l model.Lesson, settings model.NotificationSettings, now time.Time) {
	client, err := s.clientFor(l)
	if err != nil {
		s.logger.Error("load client", "lesson_id", l.ID, "client_id", l.ClientID, "error", err)
		return
	}
	if client == nil {
		s.logger.Debug("lesson has no client, skipping", "lesson_id", l.ID)
		return
	}

	reminders, err := reminder.Calculate(l, *client, settings, now, s.loc)
	if err != nil {
		s.logger.Warn("skip lesson", "lesson_id", l.ID, "error", err)
		return
	}

	produced := make(map[reminder.Kind]bool, len(reminders))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range reminders {
		produced[r.Kind] = true
		key := ledgerKey{l.ID, r.Kind}
		if a, ok := s.armed[key]; ok {
			if a.rem.FireAt.Equal(r.FireAt) {
				a.rem = r
				continue
			}
			a.timer.Stop()
			delete(s.armed, key)
		}
		s.arm(key, r, now)
	}

	for _, kind := range reminder.Kinds {
		key := ledgerKey{l.ID, kind}
		a, ok := s.armed[key]
		if !ok || produced[kind] {
			continue
		}
		// A due timer keeps its entry; it is about to fire and validates itself.
		if reminder.Enabled(settings, kind) && !a.rem.FireAt.After(now) {
			continue
		}
		a.timer.Stop()
		delete(s.armed, key)
	}
}

// arm must be called with mu held.
func (s *Scheduler) arm(key ledgerKey, r reminder.Reminder, now time.Time) {
	entry := &armedReminder{rem: r}
	entry.timer = s.afterFunc(r.FireAt.Sub(now), func() { s.fire(key, entry) })
	s.armed[key] = entry
	s.logger.Debug("reminder armed", "lesson_id", r.LessonID, "kind", r.Kind, "fire_at", r.FireAt)
}

func (s *Scheduler) fire(key ledgerKey, entry *armedReminder) {
	s.mu.Lock()
	if s.stopped || s.armed[key] != entry {
		s.mu.Unlock()
		return
	}
	delete(s.armed, key)
	ctx := s.sendCtx
	s.inflight.Add(1)
	s.mu.Unlock()

	defer s.inflight.Done()
	s.deliver(ctx, key, entry.rem.FireAt)
}

// deliver re-reads the lesson and settings so a reminder for a deleted or
// rescheduled lesson, or a kind disabled since arming, is dropped.
func (s *Scheduler) deliver(ctx context.Context, key ledgerKey, fireAt time.Time) {
	logger := s.logger.With("lesson_id", key.lessonID, "kind", key.kind)

	lesson, err := s.stores.Lessons.GetByID(key.lessonID)
	if err != nil {
		logger.Error("reload lesson", "error", err)
		return
	}
	if lesson == nil {
		logger.Debug("lesson deleted before reminder fired")
		return
	}
	client, err := s.clientFor(*lesson)
	if err != nil || client == nil {
		logger.Warn("reload client", "error", err)
		return
	}
	settings, err := s.stores.Settings.GetNotificationSettings()
	if err != nil {
		logger.Error("load notification settings", "error", err)
		return
	}

	reminders, err := reminder.Calculate(*lesson, *client, *settings, fireAt.Add(-time.Nanosecond), s.loc)
	if err != nil {
		logger.Warn("recalculate reminder", "error", err)
		return
	}
	var due *reminder.Reminder
	for i := range reminders {
		if reminders[i].Kind == key.kind && reminders[i].FireAt.Equal(fireAt) {
			due = &reminders[i]
			break
		}
	}
	if due == nil {
		logger.Debug("reminder no longer applies")
		return
	}

	sent, err := s.stores.Sent.WasSent(string(key.kind), key.lessonID, fireAt)
	if err != nil {
		logger.Error("check sent ledger", "error", err)
		return
	}
	if sent {
		logger.Debug("reminder already sent")
		return
	}

	res := s.broadcast.Broadcast(ctx, PayloadFor(*due))
	if err := s.stores.Sent.RecordSent(string(key.kind), key.lessonID, fireAt); err != nil {
		logger.Error("record sent reminder", "error", err)
	}
	logger.Info("reminder sent", "sent", res.Sent, "failed", res.Failed, "evicted", res.Evicted)
}

// PayloadFor builds the push payload for a reminder.
func PayloadFor(r reminder.Reminder) Payload {
	return Payload{
		Title: r.Title,
		Body:  r.Body,
		Icon:  iconPath,
		Badge: iconPath,
		Tag:   r.Tag(),
		Data: map[string]any{
			"lessonId": r.LessonID,
			"kind":     string(r.Kind),
			"url":      "/",
		},
	}
}
