package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
)

func TestHoneypotRule_SubstringMatchCarriesDecoy(t *testing.T) {
	r, err := NewHoneypotRule(HoneypotConfig{
		ID: "hp-admin", EndpointPath: "/admin", Response: `{"status":"ok"}`, Active: true,
	})
	require.NoError(t, err)

	sig, ok := r.Evaluate(&threat.RequestEvent{Path: "/v2/admin/login"})
	require.True(t, ok)
	assert.Equal(t, threat.KindHoneypot, sig.Kind)
	assert.Equal(t, threat.SeverityCritical, sig.Severity)
	assert.True(t, sig.ShouldBlock)
	require.NotNil(t, sig.Decoy)
	assert.Equal(t, "hp-admin", sig.Decoy.HoneypotID)
	assert.Equal(t, 200, sig.Decoy.StatusCode)
	assert.Equal(t, "application/json", sig.Decoy.ContentType)
	assert.Equal(t, `{"status":"ok"}`, sig.Decoy.Body)

	_, ok = r.Evaluate(&threat.RequestEvent{Path: "/adm"})
	assert.False(t, ok)
}

func TestHoneypotRule_PathIsNotARegex(t *testing.T) {
	r, err := NewHoneypotRule(HoneypotConfig{ID: "hp", EndpointPath: "/.env*"})
	require.NoError(t, err)

	_, ok := r.Evaluate(&threat.RequestEvent{Path: "/.envfile"})
	assert.False(t, ok)
	_, ok = r.Evaluate(&threat.RequestEvent{Path: "/app/.env*"})
	assert.True(t, ok)
}

func TestHoneypotRule_RequiresPath(t *testing.T) {
	_, err := NewHoneypotRule(HoneypotConfig{ID: "hp", EndpointPath: "  "})
	assert.Error(t, err)
}

func TestSnapshot_FirstHoneypotWins(t *testing.T) {
	a, _ := NewHoneypotRule(HoneypotConfig{ID: "first", EndpointPath: "/wp-admin"})
	b, _ := NewHoneypotRule(HoneypotConfig{ID: "second", EndpointPath: "/wp"})
	snap := &Snapshot{Honeypots: []*HoneypotRule{a, b}}

	sig, ok := snap.MatchHoneypot(&threat.RequestEvent{Path: "/wp-admin/setup.php"})
	require.True(t, ok)
	assert.Equal(t, []string{"first"}, sig.RuleIDs)
}

func TestGeoRule_BlockAndMonitor(t *testing.T) {
	block, err := NewGeoRule(GeoConfig{ID: "geo-1", CountryCode: "kp", RestrictionType: "block"})
	require.NoError(t, err)
	monitor, err := NewGeoRule(GeoConfig{ID: "geo-2", ASN: "AS64500", RestrictionType: "monitor"})
	require.NoError(t, err)

	sig, ok := block.Evaluate(&threat.RequestEvent{CountryCode: "KP"})
	require.True(t, ok)
	assert.True(t, sig.ShouldBlock)
	assert.Equal(t, threat.SeverityMedium, sig.Severity)
	assert.Equal(t, threat.KindGeoBlock, sig.Kind)

	sig, ok = monitor.Evaluate(&threat.RequestEvent{CountryCode: "US", ASN: "64500"})
	require.True(t, ok)
	assert.False(t, sig.ShouldBlock)
	assert.Equal(t, threat.SeverityLow, sig.Severity)

	_, ok = monitor.Evaluate(&threat.RequestEvent{CountryCode: "US", ASN: "AS64501"})
	assert.False(t, ok)
}

func TestGeoRule_Validation(t *testing.T) {
	_, err := NewGeoRule(GeoConfig{ID: "empty"})
	assert.Error(t, err)
	_, err = NewGeoRule(GeoConfig{ID: "bad", CountryCode: "FR", RestrictionType: "deny"})
	assert.Error(t, err)
}

func TestCompilePathPattern(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/api/users", "/api/users", true},
		{"/api/users", "/api/users/1", false},
		{"/api/users/{id}", "/api/users/42", true},
		{"/api/users/{id}", "/api/users/42/orders", false},
		{"/api/*", "/api/anything/at/all", true},
		{"^/v[0-9]+/orders$", "/v3/orders", true},
		{"/api/v1.0/x", "/api/v1x0/x", false},
	}
	for _, tt := range tests {
		re, err := compilePathPattern(tt.pattern)
		require.NoError(t, err, tt.pattern)
		assert.Equal(t, tt.want, re.MatchString(tt.path), "%s vs %s", tt.pattern, tt.path)
	}
}

func TestSchemaRule_JSONParseFailureIsViolation(t *testing.T) {
	r, err := NewSchemaRule(SchemaConfig{
		ID: "schema-users", PathPattern: "/api/users/{id}", Method: "PUT",
		ContentType: "application/json", ValidationEnabled: true,
	})
	require.NoError(t, err)

	sig, ok := r.Evaluate(&threat.RequestEvent{Method: "PUT", Path: "/api/users/7?x=1", Body: `{"name": "bob"`})
	require.True(t, ok)
	assert.Equal(t, threat.KindSchemaViolation, sig.Kind)
	assert.Equal(t, threat.SeverityMedium, sig.Severity)
	assert.Equal(t, []string{"schema-users"}, sig.RuleIDs)

	_, ok = r.Evaluate(&threat.RequestEvent{Method: "PUT", Path: "/api/users/7", Body: `{"name":"bob"}`})
	assert.False(t, ok)

	// wrong method
	_, ok = r.Evaluate(&threat.RequestEvent{Method: "POST", Path: "/api/users/7", Body: `{`})
	assert.False(t, ok)

	// no body
	_, ok = r.Evaluate(&threat.RequestEvent{Method: "PUT", Path: "/api/users/7"})
	assert.False(t, ok)
}

func TestSchemaRule_RequiredFields(t *testing.T) {
	r, err := NewSchemaRule(SchemaConfig{
		ID: "s", PathPattern: "/login", Method: "POST", ValidationEnabled: true,
		Schema: `{"type":"object","required":["username","password"]}`,
	})
	require.NoError(t, err)

	_, ok := r.Evaluate(&threat.RequestEvent{Method: "POST", Path: "/login", Body: `{"username":"a","password":"b"}`})
	assert.False(t, ok)

	sig, ok := r.Evaluate(&threat.RequestEvent{Method: "POST", Path: "/login", Body: `{"username":"a"}`})
	require.True(t, ok)
	assert.Contains(t, sig.Detail, "password")

	_, ok = r.Evaluate(&threat.RequestEvent{Method: "POST", Path: "/login", Body: `["username","password"]`})
	assert.True(t, ok)
}

func TestSchemaRule_XMLAndForm(t *testing.T) {
	x, err := NewSchemaRule(SchemaConfig{ID: "x", PathPattern: "/soap", ContentType: "text/xml", ValidationEnabled: true})
	require.NoError(t, err)
	_, ok := x.Evaluate(&threat.RequestEvent{Method: "POST", Path: "/soap", Body: `<a><b>1</b></a>`})
	assert.False(t, ok)
	_, ok = x.Evaluate(&threat.RequestEvent{Method: "POST", Path: "/soap", Body: `<a><b>1</a>`})
	assert.True(t, ok)
	_, ok = x.Evaluate(&threat.RequestEvent{Method: "POST", Path: "/soap", Body: `just text`})
	assert.True(t, ok)

	f, err := NewSchemaRule(SchemaConfig{ID: "f", PathPattern: "/form", ContentType: "application/x-www-form-urlencoded", ValidationEnabled: true})
	require.NoError(t, err)
	_, ok = f.Evaluate(&threat.RequestEvent{Method: "POST", Path: "/form", Body: "a=1&b=2"})
	assert.False(t, ok)
	_, ok = f.Evaluate(&threat.RequestEvent{Method: "POST", Path: "/form", Body: "a=%zz"})
	assert.True(t, ok)
}

func TestSchemaRule_Rejections(t *testing.T) {
	_, err := NewSchemaRule(SchemaConfig{ID: "off", PathPattern: "/x"})
	assert.Error(t, err)
	_, err = NewSchemaRule(SchemaConfig{ID: "ct", PathPattern: "/x", ContentType: "application/protobuf", ValidationEnabled: true})
	assert.Error(t, err)
	_, err = NewSchemaRule(SchemaConfig{ID: "schema", PathPattern: "/x", ValidationEnabled: true, Schema: "{"})
	assert.Error(t, err)
}

func TestAdaptiveRule_ORSemantics(t *testing.T) {
	r, err := NewAdaptiveRule(AdaptiveConfig{
		ID: "ad-1", SourceAddress: "203.0.113.9", PathPattern: "/admin", Action: "block", LearningConfidence: 72,
	})
	require.NoError(t, err)
	require.Len(t, r.Conditions(), 2)

	sig, ok := r.Evaluate(&threat.RequestEvent{SourceAddress: "198.51.100.2", Path: "/admin/login"})
	require.True(t, ok, "path alone must match")
	assert.Equal(t, threat.KindAdaptiveRule, sig.Kind)
	assert.Equal(t, threat.SeverityHigh, sig.Severity)
	assert.True(t, sig.ShouldBlock)
	assert.Equal(t, 72.0, sig.Confidence)
	assert.Equal(t, "block", sig.Action)

	_, ok = r.Evaluate(&threat.RequestEvent{SourceAddress: "203.0.113.9", Path: "/home"})
	assert.True(t, ok, "address alone must match")

	_, ok = r.Evaluate(&threat.RequestEvent{SourceAddress: "198.51.100.2", Path: "/home"})
	assert.False(t, ok)
}

func TestAdaptiveRule_ActionSeverity(t *testing.T) {
	tests := []struct {
		action string
		want   threat.Severity
		block  bool
	}{
		{"block", threat.SeverityHigh, true},
		{"challenge", threat.SeverityMedium, false},
		{"rate_limit", threat.SeverityMedium, false},
		{"monitor", threat.SeverityLow, false},
		{"", threat.SeverityLow, false},
	}
	for _, tt := range tests {
		r, err := NewAdaptiveRule(AdaptiveConfig{ID: "r", UserAgentPattern: "(?i)python", Action: tt.action})
		require.NoError(t, err)
		sig, ok := r.Evaluate(&threat.RequestEvent{UserAgent: "Python-urllib/3.11"})
		require.True(t, ok)
		assert.Equal(t, tt.want, sig.Severity, tt.action)
		assert.Equal(t, tt.block, sig.ShouldBlock, tt.action)
	}
}

func TestAdaptiveRule_Rejections(t *testing.T) {
	_, err := NewAdaptiveRule(AdaptiveConfig{ID: "none"})
	assert.Error(t, err)
	_, err = NewAdaptiveRule(AdaptiveConfig{ID: "bad", PathPattern: "("})
	assert.Error(t, err)
}
