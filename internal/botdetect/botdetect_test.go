package botdetect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dexra46515/apex-app-shield-sub000/internal/threat"
)

func TestClassify_EmptyAgent(t *testing.T) {
	_, ok := New().Classify("")
	assert.False(t, ok)
	_, ok = New().Classify("   ")
	assert.False(t, ok)
}

func TestClassify_BrowserIsClean(t *testing.T) {
	_, ok := New().Classify("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36")
	assert.False(t, ok)
}

func TestClassify_MaliciousToolShortCircuits(t *testing.T) {
	// sqlmap's agent also contains a generic token; the malicious tier must win.
	sig, ok := New().Classify("sqlmap/1.7.2#stable (https://sqlmap.org) bot")
	require.True(t, ok)
	assert.Equal(t, threat.KindMaliciousBot, sig.Kind)
	assert.Equal(t, threat.SeverityCritical, sig.Severity)
	assert.Equal(t, 95.0, sig.Confidence)
	assert.Equal(t, []string{"bot-tool-sqlmap"}, sig.RuleIDs)
}

func TestClassify_GenericBot(t *testing.T) {
	sig, ok := New().Classify("Googlebot/2.1 (+http://www.google.com/bot.html)")
	require.True(t, ok)
	assert.Equal(t, threat.KindBot, sig.Kind)
	assert.Equal(t, threat.SeverityLow, sig.Severity)
	assert.Equal(t, 70.0, sig.Confidence)
	assert.False(t, sig.ShouldBlock)
}

func TestClassify_ExtraMaliciousTokens(t *testing.T) {
	sig, ok := New("EvilScanner").Classify("evilscanner/0.1")
	require.True(t, ok)
	assert.Equal(t, threat.KindMaliciousBot, sig.Kind)
}
