package installer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// submissionTimeout is spec.md §6's "10 s timeout" for the best-effort
// telemetry POST.
const submissionTimeout = 10 * time.Second

// DiskSummary is one anonymized disk entry in a TelemetryPayload.
type DiskSummary struct {
	Type       string `json:"type"`
	SizeBucket string `json:"size_bucket"`
}

// Hardware is the anonymized hardware section of a TelemetryPayload.
// No serial numbers, MACs, or hostnames: only kernel version, CPU
// family, RAM, and bucketed disk sizes, per spec.md §6 "No PII".
type Hardware struct {
	Kernel   string        `json:"kernel"`
	CPUFamily string       `json:"cpu_family"`
	RAMMiB   int           `json:"ram_mib"`
	Disks    []DiskSummary `json:"disks"`
}

// Choices is the anonymized installer-choice section.
type Choices struct {
	Locale           string `json:"locale"`
	Keyboard         string `json:"keyboard"`
	Timezone         string `json:"timezone"`
	RaidType         string `json:"raid_type"`
	EncryptionOn     bool   `json:"encryption_on"`
	HardeningProfile string `json:"hardening_profile"`
}

// Payload is the telemetry submission document (spec.md §6). No PII.
type Payload struct {
	InstallID       string   `json:"install_id"`
	ISOVersion      string   `json:"iso_version"`
	InstallerVersion string  `json:"installer_version"`
	Status          string   `json:"status"`
	Hardware        Hardware `json:"hardware"`
	Choices         Choices  `json:"choices"`
	SchemaVersion   int      `json:"schema_version"`
}

// NewPayload stamps a fresh random install_id, the one piece of the
// payload the caller should not have to supply.
func NewPayload(isoVersion, installerVersion string, hw Hardware, choices Choices, status string) Payload {
	return Payload{
		InstallID:        uuid.NewString(),
		ISOVersion:       isoVersion,
		InstallerVersion: installerVersion,
		Status:           status,
		Hardware:         hw,
		Choices:          choices,
		SchemaVersion:    1,
	}
}

// Submit POSTs payload to endpoint as JSON if consent is true and
// endpoint is non-empty; otherwise it logs and returns nil immediately
// (spec.md §8 scenario 6: "telemetryjob completes with success and a
// log entry 'telemetry skipped: no consent'"). Network or HTTP
// failures are logged and swallowed — telemetryjob is spec.md §7's one
// documented exception to "no error is silently swallowed", since a
// failed telemetry submission must never fail the install.
func Submit(ctx context.Context, endpoint string, consent bool, payload Payload, entry *log.Entry) error {
	if entry == nil {
		entry = log.NewEntry(log.StandardLogger())
	}
	if !consent || endpoint == "" {
		entry.Info("telemetry skipped: no consent")
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		entry.WithError(err).Warn("telemetry: failed to marshal payload, skipping submission")
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, submissionTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		entry.WithError(err).Warn("telemetry: failed to build request, skipping submission")
		return nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		entry.WithError(err).Warn("telemetry: submission failed, continuing install")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		entry.WithField("status", resp.StatusCode).Warn("telemetry: endpoint returned an error status, continuing install")
		return nil
	}

	entry.WithField("install_id", payload.InstallID).Info("telemetry submitted")
	return nil
}
