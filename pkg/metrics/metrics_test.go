package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordVendorCall(t *testing.T) {
	before := testutil.ToFloat64(vendorCalls.WithLabelValues("twilio", "error"))
	RecordVendorCall("twilio", false, 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(vendorCalls.WithLabelValues("twilio", "error")))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	RecordRequest("GET", "/api/agents", 200, time.Millisecond)
	RecordOTPIssued("signup")

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `hallcall_http_requests_total{method="GET",route="/api/agents",status="200"}`)
	assert.Contains(t, string(body), `hallcall_otp_issued_total{purpose="signup"}`)
}
