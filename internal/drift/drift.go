// Package drift scans the document registry for early signals of knowledge
// base decay: shrinking fresh-document ratios and accumulating deprecated
// versions. Intended to run on a schedule (weekly cron is plenty) rather
// than on the query path.
package drift

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kbguard/kbguard-go/internal/registry"
)

// Detection thresholds.
const (
	// FreshRatioWarning is the fresh-document ratio below which a namespace
	// is flagged as aging.
	FreshRatioWarning = 0.75

	// FreshRatioCritical is the fresh-document ratio below which a namespace
	// needs urgent owner review.
	FreshRatioCritical = 0.60

	// DeprecatedRatioMax is the deprecated-document ratio above which a
	// namespace needs cleanup.
	DeprecatedRatioMax = 0.10

	// MaxDocumentAge is how old a document's last_updated stamp may be
	// before the document stops counting as fresh.
	MaxDocumentAge = 180 * 24 * time.Hour
)

// Namespace health statuses, ordered worst first.
const (
	StatusCritical     = "critical"
	StatusWarning      = "warning"
	StatusNeedsCleanup = "needs_cleanup"
	StatusHealthy      = "healthy"
	StatusEmpty        = "empty"
)

// NamespaceReport is the scan result for one namespace.
type NamespaceReport struct {
	// Status is one of the Status* constants.
	Status string `json:"status"`

	// TotalDocs is how many registry records the namespace has.
	TotalDocs int `json:"total_docs"`

	// FreshDocs is how many of them were updated within MaxDocumentAge.
	FreshDocs int `json:"fresh_docs"`

	// FreshRatio is FreshDocs / TotalDocs, rounded to three decimals.
	FreshRatio float64 `json:"fresh_ratio"`

	// DeprecatedDocs is how many records are deprecated versions.
	DeprecatedDocs int `json:"deprecated_docs"`

	// CleanupCandidates is how many deprecated records have outlived the
	// registry retention window and can be purged.
	CleanupCandidates int `json:"cleanup_candidates"`

	// OldestUpdate is the earliest last_updated stamp seen, empty when no
	// record carries one.
	OldestUpdate string `json:"oldest_update,omitempty"`
}

// Report maps namespace to its scan result.
type Report map[string]NamespaceReport

// DocumentLister is the registry slice the detector needs.
// *registry.SQLiteRegistry implements it.
type DocumentLister interface {
	ListDocuments(ctx context.Context, namespace string) ([]registry.KnowledgeDocument, error)
}

// Alerter receives drift alerts. Implementations decide the channel; the
// default LogAlerter writes to the structured log.
type Alerter interface {
	Urgent(msg string)
	Warning(msg string)
}

// LogAlerter emits alerts to a slog.Logger.
type LogAlerter struct {
	Log *slog.Logger
}

func (a LogAlerter) logger() *slog.Logger {
	if a.Log != nil {
		return a.Log
	}
	return slog.Default()
}

// Urgent logs the alert at error level.
func (a LogAlerter) Urgent(msg string) {
	a.logger().Error("drift alert", "severity", "urgent", "message", msg)
}

// Warning logs the alert at warn level.
func (a LogAlerter) Warning(msg string) {
	a.logger().Warn("drift alert", "severity", "warning", "message", msg)
}

// Detector scans the registry and raises alerts for decaying namespaces.
type Detector struct {
	registry DocumentLister
	alerter  Alerter

	// now is stubbed in tests.
	now func() time.Time
}

// New returns a Detector. A nil alerter falls back to LogAlerter.
func New(reg DocumentLister, alerter Alerter) *Detector {
	if alerter == nil {
		alerter = LogAlerter{}
	}
	return &Detector{registry: reg, alerter: alerter, now: time.Now}
}

// Scan analyses every namespace in the registry and triggers alerts for
// critical and warning statuses. The returned report covers all namespaces,
// healthy ones included.
func (d *Detector) Scan(ctx context.Context) (Report, error) {
	docs, err := d.registry.ListDocuments(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("drift: list documents: %w", err)
	}

	byNamespace := make(map[string][]registry.KnowledgeDocument)
	for _, doc := range docs {
		byNamespace[doc.Namespace] = append(byNamespace[doc.Namespace], doc)
	}

	report := make(Report, len(byNamespace))
	for ns, nsDocs := range byNamespace {
		report[ns] = d.analyze(nsDocs)
	}

	d.alert(report)
	return report, nil
}

// analyze computes the health of one namespace's documents.
func (d *Detector) analyze(docs []registry.KnowledgeDocument) NamespaceReport {
	total := len(docs)
	if total == 0 {
		return NamespaceReport{Status: StatusEmpty}
	}

	now := d.now()
	var fresh, deprecated, cleanup int
	oldest := ""
	for _, doc := range docs {
		stamp := doc.Metadata[metaLastUpdated]
		if d.isFresh(stamp, now) {
			fresh++
		}
		if stamp != "" && (oldest == "" || stamp < oldest) {
			oldest = stamp
		}
		if doc.Status == registry.StatusDeprecated {
			deprecated++
			if doc.ShouldBeCleaned(now) {
				cleanup++
			}
		}
	}

	freshRatio := float64(fresh) / float64(total)
	deprecatedRatio := float64(deprecated) / float64(total)

	var status string
	switch {
	case freshRatio < FreshRatioCritical:
		status = StatusCritical
	case freshRatio < FreshRatioWarning:
		status = StatusWarning
	case deprecatedRatio > DeprecatedRatioMax:
		status = StatusNeedsCleanup
	default:
		status = StatusHealthy
	}

	return NamespaceReport{
		Status:            status,
		TotalDocs:         total,
		FreshDocs:         fresh,
		FreshRatio:        math.Round(freshRatio*1000) / 1000,
		DeprecatedDocs:    deprecated,
		CleanupCandidates: cleanup,
		OldestUpdate:      oldest,
	}
}

// alert raises one alert per decayed namespace. needs_cleanup is reported
// but not alerted: it is routine maintenance, not decay.
func (d *Detector) alert(report Report) {
	for ns, stats := range report {
		switch stats.Status {
		case StatusCritical:
			d.alerter.Urgent(fmt.Sprintf(
				"[%s] knowledge base is critically stale: %.0f%% of documents are fresh — notify document owners for review now",
				ns, stats.FreshRatio*100))
		case StatusWarning:
			d.alerter.Warning(fmt.Sprintf(
				"[%s] knowledge base is aging: %.0f%% of documents are fresh",
				ns, stats.FreshRatio*100))
		}
	}
}

// isFresh reports whether a last_updated stamp is within MaxDocumentAge.
// Missing or unparseable stamps count as stale.
func (d *Detector) isFresh(stamp string, now time.Time) bool {
	if stamp == "" {
		return false
	}
	t, err := parseISO(stamp)
	if err != nil {
		return false
	}
	return now.Sub(t) <= MaxDocumentAge
}

// metaLastUpdated is the registry metadata key carrying the document's
// last_updated stamp, mirrored from the ingestion metadata.
const metaLastUpdated = "last_updated"

// parseISO accepts a bare date or an RFC 3339-style timestamp.
func parseISO(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("drift: unparseable timestamp %q", s)
}
