// Package enrich runs bounded-concurrency enrichment batches over channels
// selected from the store, streaming per-channel progress to one consumer
// per job.
package enrich

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/harvestlab/ytharvest/internal/lifecycle"
	"github.com/harvestlab/ytharvest/internal/store"
	"github.com/harvestlab/ytharvest/internal/youtube"
)

// Enricher is the scraping collaborator. Errors wrapping
// youtube.ErrFeedUnavailable or youtube.ErrInvalidChannel are terminal
// outcomes; everything else is a transient error.
type Enricher interface {
	Enrich(ctx context.Context, channelID, channelURL string) (youtube.Enrichment, error)
	EnrichEmailOnly(ctx context.Context, channelID, channelURL string) (youtube.EmailScan, error)
}

const (
	defaultWorkers = 4
	maxReasonLen   = 500
	// Bounded number of selection fetch rounds, so overlapping store pages
	// can never loop forever.
	maxFetchRounds = 5
)

// Manager owns the live job registry and the shared worker pool.
type Manager struct {
	store    *store.Store
	enricher Enricher
	sem      chan struct{}

	mu   sync.Mutex
	jobs map[string]*Job
}

func NewManager(st *store.Store, enricher Enricher, workers int) *Manager {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Manager{
		store:    st,
		enricher: enricher,
		sem:      make(chan struct{}, workers),
		jobs:     map[string]*Job{},
	}
}

// StartJob selects eligible channels, registers a job, and dispatches its
// tasks. The returned job is already running; consume Events() for progress.
func (m *Manager) StartJob(ctx context.Context, limit int, mode Mode, forceRun, neverReenrich bool) (*Job, error) {
	selected, requested, skipped, err := m.selectChannels(ctx, limit, mode, forceRun, neverReenrich)
	if err != nil {
		return nil, err
	}

	job := newJob(uuid.NewString(), mode, selected, requested, skipped)
	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	slog.Info("enrich: job started",
		slog.String("job_id", job.ID),
		slog.String("mode", string(mode)),
		slog.Int("total", job.Total()),
		slog.Int("skipped", skipped))

	if len(selected) == 0 {
		job.markDone()
		return job, nil
	}

	for _, ch := range selected {
		go m.runTask(job, ch)
	}
	job.push(progressEvent(job.Summary()))
	return job, nil
}

// selectChannels pulls candidates in growing chunks, applies the eligibility
// policy, and maintains the recent_no_email markers: a cooldown skip stamps
// the marker, a lapsed cooldown clears it back to new.
func (m *Manager) selectChannels(ctx context.Context, limit int, mode Mode, forceRun, neverReenrich bool) ([]store.Channel, int, int, error) {
	fetch := func(n, offset int) ([]store.Channel, error) {
		if mode == ModeEmailOnly {
			return m.store.EmailEnrichmentChannels(ctx, n, offset)
		}
		return m.store.PendingChannels(ctx, n, offset)
	}

	now := time.Now().UTC()
	var selected []store.Channel
	requested, skipped := 0, 0
	seen := map[string]bool{}

	fetchSize := limit
	if fetchSize <= 0 {
		fetchSize = -1 // no limit
	}
	offset := 0
	for round := 0; round < maxFetchRounds; round++ {
		rows, err := fetch(fetchSize, offset)
		if err != nil {
			return nil, 0, 0, err
		}
		if len(rows) == 0 {
			break
		}
		offset += len(rows)

		for _, ch := range rows {
			if seen[ch.ChannelID] {
				continue
			}
			seen[ch.ChannelID] = true
			requested++

			decision := lifecycle.Evaluate(lifecycle.Candidate{
				Status:         ch.Status,
				LastEnrichedAt: lifecycle.ParseTime(ch.LastEnrichedAt),
				LastResult:     lifecycle.Result(ch.LastEnrichedResult),
				HasEmails:      strings.TrimSpace(ch.Emails) != "",
			}, now, forceRun, neverReenrich)

			switch decision {
			case lifecycle.Run:
				if ch.Status == lifecycle.StatusRecentNoEmail {
					ts := lifecycle.FormatTime(now)
					if err := m.store.SetStatus(ctx, ch.ChannelID, lifecycle.StatusNew, "", ts); err != nil {
						return nil, 0, 0, err
					}
					ch.Status = lifecycle.StatusNew
				}
				selected = append(selected, ch)
			case lifecycle.SkipCooldown:
				skipped++
				if ch.Status != lifecycle.StatusRecentNoEmail && lifecycle.Selectable(ch.Status) {
					ts := lifecycle.FormatTime(now)
					if err := m.store.SetStatus(ctx, ch.ChannelID, lifecycle.StatusRecentNoEmail,
						"no emails found recently", ts); err != nil {
						return nil, 0, 0, err
					}
				}
			default:
				skipped++
			}
			if limit > 0 && len(selected) >= limit {
				return selected, requested, skipped, nil
			}
		}

		if limit <= 0 {
			break
		}
		// Grow to cover in-batch skips on the next round.
		fetchSize *= 2
	}
	return selected, requested, skipped, nil
}

// Subscribe looks up a live job by ID.
func (m *Manager) Subscribe(jobID string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	return job, ok
}

// Release drops a job from the registry once its stream is consumed or
// abandoned. Re-subscribing to the ID then fails.
func (m *Manager) Release(jobID string) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	delete(m.jobs, jobID)
	m.mu.Unlock()
	if ok {
		job.markDone()
	}
}

// RegistrySummary aggregates the live jobs for the stats endpoint.
type RegistrySummary struct {
	ActiveJobs      int       `json:"activeJobs"`
	PendingChannels int       `json:"pendingChannels"`
	Jobs            []Summary `json:"jobs"`
}

func (m *Manager) Summaries() RegistrySummary {
	m.mu.Lock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		jobs = append(jobs, j)
	}
	m.mu.Unlock()

	out := RegistrySummary{Jobs: []Summary{}}
	for _, j := range jobs {
		s := j.Summary()
		out.PendingChannels += s.Pending
		out.Jobs = append(out.Jobs, s)
	}
	out.ActiveJobs = len(out.Jobs)
	sort.Slice(out.Jobs, func(i, k int) bool { return out.Jobs[i].JobID < out.Jobs[k].JobID })
	return out
}

func (m *Manager) runTask(job *Job, ch store.Channel) {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	// Tasks outlive the request that started the job.
	ctx := context.Background()
	if job.Mode == ModeEmailOnly {
		m.processEmailOnly(ctx, job, ch)
	} else {
		m.processFull(ctx, job, ch)
	}
}

func (m *Manager) processFull(ctx context.Context, job *Job, ch store.Channel) {
	id := ch.ChannelID
	now := lifecycle.FormatTime(time.Now())
	if err := m.store.UpdateEnrichment(ctx, id, store.EnrichmentUpdate{LastAttempted: &now}); err != nil {
		slog.Error("enrich: stamp attempt", slog.String("channel", id), slog.Any("error", err))
	}
	if err := m.store.SetStatus(ctx, id, lifecycle.StatusProcessing, "", now); err != nil {
		slog.Error("enrich: set processing", slog.String("channel", id), slog.Any("error", err))
	}
	job.push(channelEvent(job, id, lifecycle.StatusProcessing, "", now, nil))

	enriched, err := m.enricher.Enrich(ctx, id, ch.URL)
	if err != nil {
		m.finishFullFailure(ctx, job, id, err)
		return
	}

	success := lifecycle.FormatTime(time.Now())
	if len(enriched.Emails) > 0 {
		if err := m.store.RecordEmails(ctx, id, enriched.Emails, success); err != nil {
			slog.Error("enrich: record emails", slog.String("channel", id), slog.Any("error", err))
		}
	}
	result := lifecycle.ResultNoEmails
	if len(enriched.Emails) > 0 {
		result = lifecycle.ResultEmailsFound
	}

	name := enriched.Name
	if name == "" {
		name = ch.Name
	}
	lastUpdated := enriched.LastUpdated
	if lastUpdated == "" {
		lastUpdated = success
	}
	emailsValue := strings.Join(enriched.Emails, ", ")
	needs := false
	empty := ""
	status := lifecycle.StatusCompleted
	resultStr := string(result)
	upd := store.EnrichmentUpdate{
		Name:               &name,
		Subscribers:        enriched.Subscribers,
		LanguageConfidence: enriched.LanguageConfidence,
		Emails:             &emailsValue,
		EmailGatePresent:   enriched.EmailGatePresent,
		LastUpdated:        &lastUpdated,
		LastAttempted:      &success,
		LastEnrichedAt:     &success,
		LastEnrichedResult: &resultStr,
		NeedsEnrichment:    &needs,
		LastError:          &empty,
		Status:             &status,
		StatusReason:       &empty,
		LastStatusChange:   &success,
	}
	if enriched.Language != "" {
		upd.Language = &enriched.Language
	}
	if err := m.store.UpdateEnrichment(ctx, id, upd); err != nil {
		slog.Error("enrich: store result", slog.String("channel", id), slog.Any("error", err))
	}

	ev := channelEvent(job, id, lifecycle.StatusCompleted, "", success, enriched.Emails)
	ev["subscribers"] = ptrValue(enriched.Subscribers)
	ev["language"] = enriched.Language
	ev["languageConfidence"] = ptrValue(enriched.LanguageConfidence)
	ev["lastUpdated"] = lastUpdated
	ev["emailGatePresent"] = ptrValue(enriched.EmailGatePresent)
	job.push(ev)
	job.finish(true)
}

// finishFullFailure maps a scrape error onto the lifecycle: feed_unavailable
// and invalid_channel are terminal outcomes that count as completed work;
// anything else is a transient error the next job may retry.
func (m *Manager) finishFullFailure(ctx context.Context, job *Job, id string, err error) {
	ts := lifecycle.FormatTime(time.Now())
	reason := truncateReason(err.Error())

	status := lifecycle.StatusError
	result := lifecycle.ResultError
	needs := true
	completed := false
	switch {
	case errors.Is(err, youtube.ErrFeedUnavailable):
		status = lifecycle.StatusFeedUnavailable
		result = lifecycle.ResultFeedUnavailable
		needs = false
		completed = true
	case errors.Is(err, youtube.ErrInvalidChannel):
		status = lifecycle.StatusInvalidChannel
		result = lifecycle.ResultInvalidChannel
		needs = false
		completed = true
	}

	resultStr := string(result)
	upd := store.EnrichmentUpdate{
		NeedsEnrichment:    &needs,
		LastError:          &reason,
		Status:             &status,
		StatusReason:       &reason,
		LastStatusChange:   &ts,
		LastEnrichedAt:     &ts,
		LastEnrichedResult: &resultStr,
	}
	if err := m.store.UpdateEnrichment(ctx, id, upd); err != nil {
		slog.Error("enrich: store failure", slog.String("channel", id), slog.Any("error", err))
	}

	job.push(channelEvent(job, id, status, reason, ts, nil))
	job.finish(completed)
}

func (m *Manager) processEmailOnly(ctx context.Context, job *Job, ch store.Channel) {
	id := ch.ChannelID
	start := lifecycle.FormatTime(time.Now())

	parsed := store.ParseEmailCandidates(ch.Emails)
	stored, err := m.store.ChannelEmailSet(ctx, id)
	if err != nil {
		slog.Error("enrich: channel emails", slog.String("channel", id), slog.Any("error", err))
	}
	display := parsed
	if len(display) == 0 && len(stored) > 0 {
		display = sortedKeys(stored)
	}

	skip := len(stored) > 0
	if !skip && len(display) > 0 {
		known, err := m.store.HasAllKnownEmails(ctx, display)
		if err != nil {
			slog.Error("enrich: known emails", slog.String("channel", id), slog.Any("error", err))
		}
		skip = known
	}
	if skip {
		m.finishEmailCacheHit(ctx, job, ch, display, start)
		return
	}

	job.push(channelEvent(job, id, lifecycle.StatusProcessing, "", start, nil))

	scan, err := m.enricher.EnrichEmailOnly(ctx, id, ch.URL)
	if err != nil {
		ts := lifecycle.FormatTime(time.Now())
		reason := truncateReason(err.Error())
		resultStr := string(lifecycle.ResultError)
		if err := m.store.UpdateEnrichment(ctx, id, store.EnrichmentUpdate{
			LastEnrichedAt:     &ts,
			LastEnrichedResult: &resultStr,
		}); err != nil {
			slog.Error("enrich: store failure", slog.String("channel", id), slog.Any("error", err))
		}
		job.push(channelEvent(job, id, lifecycle.StatusError, reason, ts, nil))
		job.finish(false)
		return
	}

	success := lifecycle.FormatTime(time.Now())
	if len(scan.Emails) > 0 {
		if err := m.store.RecordEmails(ctx, id, scan.Emails, success); err != nil {
			slog.Error("enrich: record emails", slog.String("channel", id), slog.Any("error", err))
		}
	}
	result := lifecycle.ResultNoEmails
	if len(scan.Emails) > 0 {
		result = lifecycle.ResultEmailsFound
	}
	resultStr := string(result)
	emailsValue := strings.Join(scan.Emails, ", ")
	lastUpdated := scan.LastUpdated
	if lastUpdated == "" {
		lastUpdated = success
	}
	if err := m.store.UpdateEnrichment(ctx, id, store.EnrichmentUpdate{
		Emails:             &emailsValue,
		LastUpdated:        &lastUpdated,
		EmailGatePresent:   scan.EmailGatePresent,
		LastEnrichedAt:     &success,
		LastEnrichedResult: &resultStr,
	}); err != nil {
		slog.Error("enrich: store result", slog.String("channel", id), slog.Any("error", err))
	}

	ev := channelEvent(job, id, lifecycle.StatusCompleted, "", success, scan.Emails)
	ev["lastUpdated"] = lastUpdated
	ev["emailGatePresent"] = ptrValue(scan.EmailGatePresent)
	job.push(ev)
	job.finish(true)
}

// finishEmailCacheHit completes an email-only task whose emails are already
// on file, refreshing the index linkage without any network work.
func (m *Manager) finishEmailCacheHit(ctx context.Context, job *Job, ch store.Channel, display []string, start string) {
	id := ch.ChannelID
	if len(display) > 0 {
		if err := m.store.RecordEmails(ctx, id, display, start); err != nil {
			slog.Error("enrich: refresh emails", slog.String("channel", id), slog.Any("error", err))
		}
		emailsValue := strings.Join(display, ", ")
		gate := false
		resultStr := string(lifecycle.ResultEmailsFound)
		if err := m.store.UpdateEnrichment(ctx, id, store.EnrichmentUpdate{
			Emails:             &emailsValue,
			EmailGatePresent:   &gate,
			LastEnrichedAt:     &start,
			LastEnrichedResult: &resultStr,
		}); err != nil {
			slog.Error("enrich: refresh channel", slog.String("channel", id), slog.Any("error", err))
		}
	}

	lastUpdated := ch.LastUpdated
	if lastUpdated == "" {
		lastUpdated = start
	}
	ev := channelEvent(job, id, lifecycle.StatusCompleted, "emails unchanged", start, display)
	ev["lastUpdated"] = lastUpdated
	ev["emailGatePresent"] = false
	job.push(ev)
	job.finish(true)
}

func channelEvent(job *Job, channelID string, status lifecycle.Status, reason, timestamp string, emails []string) Event {
	ev := Event{
		"type":             "channel",
		"channelId":        channelID,
		"status":           string(status),
		"statusReason":     reason,
		"lastStatusChange": timestamp,
		"mode":             string(job.Mode),
	}
	if emails != nil {
		ev["emails"] = emails
	}
	return ev
}

func truncateReason(reason string) string {
	if len(reason) <= maxReasonLen {
		return reason
	}
	cut := maxReasonLen
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func ptrValue[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
