/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: policy_test.go
Description: Tests for policy file parsing and rule matching.
*/

package monitor_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kleascm/akaylee-probe/pkg/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolicies = `# monitored API policies
android.app.ActivityManager.getRecentTasks(int, int)	Deny

this line has no tab and is ignored
android.net.Uri.parse(java.lang.String)	content://contacts	Mock
android.net.Uri.parse(java.lang.String)	Allow
`

func TestParsePoliciesSkipsNonRuleLines(t *testing.T) {
	set, err := monitor.ParsePolicies(strings.NewReader(samplePolicies))
	require.NoError(t, err)

	rules := set.Rules()
	require.Len(t, rules, 3)
	assert.Equal(t, "android.app.ActivityManager.getRecentTasks(int,int)", rules[0].ID.Signature)
	assert.Equal(t, monitor.Deny, rules[0].Policy)
	assert.Equal(t, []string{"content://contacts"}, rules[1].ID.URIPatterns)
	assert.Equal(t, monitor.Mock, rules[1].Policy)
	assert.Empty(t, rules[2].ID.URIPatterns)
}

func TestPolicyLookupIgnoresWhitespace(t *testing.T) {
	set, err := monitor.ParsePolicies(strings.NewReader(samplePolicies))
	require.NoError(t, err)

	policy, ok := set.Lookup("android.app.ActivityManager.getRecentTasks( int,int )", nil)
	assert.True(t, ok)
	assert.Equal(t, monitor.Deny, policy)
}

func TestPolicyLookupFirstMatchWins(t *testing.T) {
	set, err := monitor.ParsePolicies(strings.NewReader(samplePolicies))
	require.NoError(t, err)

	policy, ok := set.Lookup("android.net.Uri.parse(java.lang.String)", []string{"content://contacts/people/1"})
	assert.True(t, ok)
	assert.Equal(t, monitor.Mock, policy)

	policy, ok = set.Lookup("android.net.Uri.parse(java.lang.String)", []string{"https://example.com"})
	assert.True(t, ok)
	assert.Equal(t, monitor.Allow, policy)
}

func TestPolicyLookupNoMatchIsAllow(t *testing.T) {
	set, err := monitor.ParsePolicies(strings.NewReader(samplePolicies))
	require.NoError(t, err)

	policy, ok := set.Lookup("com.example.Unknown.call()", nil)
	assert.False(t, ok)
	assert.Equal(t, monitor.Allow, policy)
}

func TestPolicyIDAffects(t *testing.T) {
	id := monitor.PolicyID{
		Signature:   "com.example.Foo.bar(android.net.Uri,android.net.Uri)",
		URIPatterns: []string{"content://", "sms"},
	}

	assert.True(t, id.Affects("com.example.Foo.bar(android.net.Uri, android.net.Uri)", []string{"content://", "sms/inbox"}))
	assert.True(t, id.Affects("com.example.Foo.bar(android.net.Uri,android.net.Uri)", []string{"content://sms"}))
	assert.False(t, id.Affects("com.example.Foo.bar(android.net.Uri,android.net.Uri)", []string{"content://mms"}))
	assert.False(t, id.Affects("com.example.Foo.baz(android.net.Uri,android.net.Uri)", []string{"content://sms"}))

	bare := monitor.PolicyID{Signature: "com.example.Foo.bar()"}
	assert.True(t, bare.Affects("com.example.Foo.bar()", nil))
	assert.True(t, bare.Affects("com.example.Foo.bar()", []string{"anything"}))
}

func TestParsePoliciesDuplicateReplacesInPlace(t *testing.T) {
	input := "a.B.c()\tDeny\nd.E.f()\tAllow\na.B.c()\tMock\n"
	set, err := monitor.ParsePolicies(strings.NewReader(input))
	require.NoError(t, err)

	rules := set.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "a.B.c()", rules[0].ID.Signature)
	assert.Equal(t, monitor.Mock, rules[0].Policy)
}

func TestParsePoliciesRejectsUnknownPolicy(t *testing.T) {
	_, err := monitor.ParsePolicies(strings.NewReader("a.B.c()\tExplode\n"))
	assert.Error(t, err)
}

func TestEnginePolicyForFallsBackToAllow(t *testing.T) {
	dir := t.TempDir()

	missing := monitor.New(monitor.Config{PolicyFile: filepath.Join(dir, "missing.txt")})
	assert.Equal(t, monitor.Allow, missing.PolicyFor("a.B.c()", nil))

	broken := filepath.Join(dir, "broken.txt")
	require.NoError(t, os.WriteFile(broken, []byte("a.B.c()\tNope\n"), 0644))
	e := monitor.New(monitor.Config{PolicyFile: broken})
	assert.Equal(t, monitor.Allow, e.PolicyFor("a.B.c()", nil))

	none := monitor.New(monitor.Config{})
	assert.Equal(t, monitor.Allow, none.PolicyFor("a.B.c()", nil))
}

func TestEnginePolicyFileIsReloaded(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.txt")
	require.NoError(t, os.WriteFile(path, []byte("a.B.c()\tDeny\n"), 0644))

	e := monitor.New(monitor.Config{PolicyFile: path})
	assert.Equal(t, monitor.Deny, e.PolicyFor("a.B.c()", nil))

	require.NoError(t, os.WriteFile(path, []byte("a.B.c()\tMock\n"), 0644))
	assert.Equal(t, monitor.Mock, e.PolicyFor("a.B.c()", nil))
}

func TestParsePolicyNames(t *testing.T) {
	for name, want := range map[string]monitor.Policy{"Allow": monitor.Allow, "Deny": monitor.Deny, "Mock": monitor.Mock} {
		got, err := monitor.ParsePolicy(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	for _, name := range []string{"deny", "MOCK", "allow", ""} {
		_, err := monitor.ParsePolicy(name)
		assert.Error(t, err, name)
	}
	assert.Equal(t, "Deny", monitor.Deny.String())
}

func TestParsePoliciesLowercaseNameFailsWholeFile(t *testing.T) {
	_, err := monitor.ParsePolicies(strings.NewReader("a.B.c()\tDeny\nd.E.f()\tdeny\n"))
	assert.ErrorContains(t, err, "policy line 2")
}

func TestParsePoliciesKeepsPatternsAsWritten(t *testing.T) {
	set, err := monitor.ParsePolicies(strings.NewReader("a.B.c(android.net.Uri)\t content://sms \t\tDeny\t\n"))
	require.NoError(t, err)

	rules := set.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, []string{" content://sms ", ""}, rules[0].ID.URIPatterns)
	assert.Equal(t, monitor.Deny, rules[0].Policy)
	assert.False(t, rules[0].ID.Affects("a.B.c(android.net.Uri)", []string{"content://sms"}))
	assert.True(t, rules[0].ID.Affects("a.B.c(android.net.Uri)", []string{"x content://sms y"}))
}

func TestParsePoliciesRejectsRuleWithoutPolicy(t *testing.T) {
	_, err := monitor.ParsePolicies(strings.NewReader("a.B.c()\t\n"))
	assert.ErrorContains(t, err, "has no policy")
}
