package internaldefs

import tgauth "github.com/medmarket/tgauth"

type CounterDef struct {
	ID   tgauth.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   tgauth.MetricID
	Name string
	Help string
}

// CounterDefs is ordered so exporters render deterministically.
var CounterDefs = []CounterDef{
	{ID: tgauth.MetricTelegramLoginSuccess, Name: "tgauth_telegram_login_success_total", Help: "Successful Telegram logins."},
	{ID: tgauth.MetricTelegramLoginFailure, Name: "tgauth_telegram_login_failure_total", Help: "Failed Telegram logins."},
	{ID: tgauth.MetricTelegramHashMismatch, Name: "tgauth_telegram_hash_mismatch_total", Help: "Telegram payloads rejected for a bad signature."},
	{ID: tgauth.MetricTelegramPayloadExpired, Name: "tgauth_telegram_payload_expired_total", Help: "Telegram payloads rejected for a stale auth_date."},
	{ID: tgauth.MetricPasswordLoginSuccess, Name: "tgauth_password_login_success_total", Help: "Successful staff password logins."},
	{ID: tgauth.MetricPasswordLoginFailure, Name: "tgauth_password_login_failure_total", Help: "Failed staff password logins."},
	{ID: tgauth.MetricPasswordHashUpgraded, Name: "tgauth_password_hash_upgraded_total", Help: "Staff password hashes rewritten to current parameters."},
	{ID: tgauth.MetricLoginRateLimited, Name: "tgauth_login_rate_limited_total", Help: "Login attempts rejected by the rate limiter."},
	{ID: tgauth.MetricRefreshSuccess, Name: "tgauth_refresh_success_total", Help: "Successful token refreshes."},
	{ID: tgauth.MetricRefreshFailure, Name: "tgauth_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: tgauth.MetricRefreshRateLimited, Name: "tgauth_refresh_rate_limited_total", Help: "Refresh attempts rejected by the rate limiter."},
	{ID: tgauth.MetricValidateSuccess, Name: "tgauth_validate_success_total", Help: "Access tokens accepted."},
	{ID: tgauth.MetricValidateExpired, Name: "tgauth_validate_expired_total", Help: "Access tokens rejected as expired."},
	{ID: tgauth.MetricValidateInvalid, Name: "tgauth_validate_invalid_total", Help: "Access tokens rejected as invalid."},
}

var HistogramDefs = []HistogramDef{
	{ID: tgauth.MetricValidateLatency, Name: "tgauth_validate_latency_seconds", Help: "Access token validation latency."},
}

// AuditDroppedName is the counter for events lost to dispatcher backpressure.
const (
	AuditDroppedName = "tgauth_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// HistogramBounds are the le labels matching the Engine's bucket layout.
var HistogramBounds = [8]string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// HistogramUpperBounds holds the finite bounds in seconds, without +Inf.
var HistogramUpperBounds = [7]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix is safe for instrument names.
var HistogramBoundSuffix = [8]string{"0_005", "0_01", "0_025", "0_05", "0_1", "0_25", "0_5", "inf"}

// NormalizeBuckets pads or truncates raw snapshot buckets to eight entries.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	copy(out[:], raw)
	return out
}

func CumulativeBuckets(nonCumulative [8]uint64) [8]uint64 {
	var out [8]uint64
	var total uint64
	for i, v := range nonCumulative {
		total += v
		out[i] = total
	}
	return out
}
