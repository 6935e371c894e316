package metrics

import "time"

// DecisionMade records the allowance an entitlement evaluation granted.
func DecisionMade(allowance string) {
	EntitlementDecisionsTotal.WithLabelValues(allowance).Inc()
}

// ScanRecorded records a completed scan.
func ScanRecorded(allowance string, isAI bool) {
	verdict := "human"
	if isAI {
		verdict = "ai"
	}
	ScansTotal.WithLabelValues(allowance, verdict).Inc()
}

// DetectionOutcome counts a detection result: "ok" or "fallback".
func DetectionOutcome(outcome string) {
	DetectionsTotal.WithLabelValues(outcome).Inc()
}

// DetectionLatency records how long a detection took, retries included.
func DetectionLatency(duration time.Duration) {
	DetectionDuration.Observe(duration.Seconds())
}

// ImageStored records an archive attempt: "stored" or "failed".
func ImageStored(status string) {
	ImageStorageTotal.WithLabelValues(status).Inc()
}

// WebhookHandled records a processed billing event.
func WebhookHandled(eventType, outcome string) {
	WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// RateLimited records a rejected request.
func RateLimited(endpoint string) {
	RateLimitRejectionsTotal.WithLabelValues(endpoint).Inc()
}
