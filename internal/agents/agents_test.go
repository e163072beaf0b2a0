package agents

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/fabriclabs/factoryd/internal/session"
)

func testSpec() *session.ParsedSpec {
	return &session.ParsedSpec{
		Name:        "vlan-rollout",
		Description: "Roll out VLAN 42 to access switches",
		TargetDevices: []session.TargetDevice{
			{Name: "sw-access-01", Host: "10.0.0.11", Platform: "ios", Group: "access"},
			{Name: "sw-access-02", Host: "10.0.0.12", Platform: "ios"},
		},
		Tasks: []session.TaskSpec{
			{Name: "configure vlan", Module: "cisco.ios.ios_vlans", Args: map[string]string{"vlan_id": "42"}},
			{Name: "save config", Module: "cisco.ios.ios_config"},
		},
		Variables: map[string]string{"vlan_name": "engineering"},
		Tags:      []string{"vlan"},
	}
}

func TestGeneratePlaybookTemplateMode(t *testing.T) {
	dir := t.TempDir()
	sess := session.New("run-1", nil)

	ref, err := NewPlaybookGenerator(dir).GeneratePlaybook(context.Background(), testSpec(), sess)
	require.NoError(t, err)

	content, err := os.ReadFile(ref.Path)
	require.NoError(t, err)

	var plays []map[string]any
	require.NoError(t, yaml.Unmarshal(content, &plays))
	require.Len(t, plays, 1)
	assert.Equal(t, "vlan-rollout", plays[0]["name"])
	assert.Equal(t, "network_devices", plays[0]["hosts"])
	assert.Len(t, plays[0]["tasks"], 2)

	inv, err := os.ReadFile(ref.Metadata["inventory"])
	require.NoError(t, err)
	assert.Contains(t, string(inv), "sw-access-01")
	assert.Contains(t, string(inv), "ansible_host: 10.0.0.11")

	assert.Equal(t, int64(2), sess.GetMetric("artifacts", 0))
}

func TestInventoryGroupsDevices(t *testing.T) {
	inv := renderInventory(testSpec())

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(inv, &parsed))
	children := parsed["all"].(map[string]any)["children"].(map[string]any)
	assert.Contains(t, children, "access")
	assert.Contains(t, children, "network_devices")
}

func TestRefinePlaybookRemediatesCredentials(t *testing.T) {
	dir := t.TempDir()
	sess := session.New("run-1", nil)
	path := filepath.Join(dir, "playbook.yml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"---",
		"- name: bad play",
		"  tasks:",
		"    - name: login",
		"      vars:",
		"        password: hunter2",
		"      no_log: false",
	}, "\n")), 0o600))

	g := NewPlaybookGenerator(dir)
	ref, err := g.RefinePlaybook(context.Background(), testSpec(),
		&session.ArtifactRef{Type: "ansible_playbook", Path: path}, "remove credentials", sess)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "playbook_refined.yml"), ref.Path)

	refined, err := os.ReadFile(ref.Path)
	require.NoError(t, err)
	assert.Contains(t, string(refined), `password: "{{ vault_password }}"`)
	assert.Contains(t, string(refined), "no_log: true")
	assert.NotContains(t, string(refined), "hunter2")

	// Refining a refined revision overwrites in place.
	ref2, err := g.RefinePlaybook(context.Background(), testSpec(), ref, "again", sess)
	require.NoError(t, err)
	assert.Equal(t, ref.Path, ref2.Path)
}

func TestReviewerFindsIssuesBySeverity(t *testing.T) {
	dir := t.TempDir()
	sess := session.New("run-1", nil)
	path := filepath.Join(dir, "playbook.yml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"---",
		"- name: risky play",
		"  tasks:",
		"    - name: login",
		"      password: hunter2",
		"      no_log: false",
		"    - name: restart",
		"      shell: reload in 5",
		"      ignore_errors: true",
	}, "\n")), 0o600))

	report, err := NewReviewer(dir).ReviewPlaybook(context.Background(),
		&session.ArtifactRef{Type: "ansible_playbook", Path: path}, sess)
	require.NoError(t, err)

	assert.Equal(t, 1, report.CriticalCount)
	assert.Equal(t, 1, report.HighCount)
	assert.Equal(t, 1, report.MediumCount)
	assert.Equal(t, 1, report.LowCount)
	assert.InDelta(t, 5.0-1.0-0.5-0.25-0.1, report.QualityScore, 1e-9)
	assert.False(t, report.Passed)

	md, err := os.ReadFile(report.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "hardcoded credential")
}

func TestReviewerPassesCleanPlaybook(t *testing.T) {
	dir := t.TempDir()
	sess := session.New("run-1", nil)
	path := filepath.Join(dir, "playbook.yml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"---",
		"- name: clean play",
		"  tasks:",
		"    - name: login",
		"      password: \"{{ vault_password }}\"",
		"      no_log: true",
	}, "\n")), 0o600))

	report, err := NewReviewer(dir).ReviewPlaybook(context.Background(),
		&session.ArtifactRef{Type: "ansible_playbook", Path: path}, sess)
	require.NoError(t, err)

	assert.Zero(t, report.CriticalCount)
	assert.Equal(t, 5.0, report.QualityScore)
	assert.True(t, report.Passed)
	assert.Empty(t, report.Issues)
}

func TestGenerateThenRemediateConverges(t *testing.T) {
	// A spec with inline credentials yields a critical finding; one
	// remediation pass clears it.
	dir := t.TempDir()
	sess := session.New("run-1", nil)
	spec := testSpec()
	spec.Tasks = append(spec.Tasks, session.TaskSpec{
		Name:   "set snmp",
		Module: "cisco.ios.ios_config",
		Args:   map[string]string{"password": "hunter2"},
	})

	g := NewPlaybookGenerator(dir)
	r := NewReviewer(dir)

	playbook, err := g.GeneratePlaybook(context.Background(), spec, sess)
	require.NoError(t, err)
	first, err := r.ReviewPlaybook(context.Background(), playbook, sess)
	require.NoError(t, err)
	require.Positive(t, first.CriticalCount)

	refined, err := g.RefinePlaybook(context.Background(), spec, playbook, "fix credentials", sess)
	require.NoError(t, err)
	second, err := r.ReviewPlaybook(context.Background(), refined, sess)
	require.NoError(t, err)
	assert.Zero(t, second.CriticalCount)
}

func TestGenerateDocumentationTemplateMode(t *testing.T) {
	dir := t.TempDir()
	sess := session.New("run-1", nil)

	ref, err := NewDocGenerator(dir).GenerateDocumentation(context.Background(), testSpec(), sess)
	require.NoError(t, err)

	content, err := os.ReadFile(ref.Path)
	require.NoError(t, err)
	doc := string(content)
	assert.Contains(t, doc, "# vlan-rollout")
	assert.Contains(t, doc, "sw-access-01")
	assert.Contains(t, doc, "`cisco.ios.ios_vlans`")
	assert.Contains(t, doc, "ansible-playbook -i inventory/hosts.yml")
}

func TestGenerateTestsWritesSuite(t *testing.T) {
	dir := t.TempDir()
	sess := session.New("run-1", nil)
	playbook := &session.ArtifactRef{Type: "ansible_playbook", Path: filepath.Join(dir, "ansible", "playbook.yml")}

	ref, err := NewTestGenerator(dir).GenerateTests(context.Background(), testSpec(), playbook, sess)
	require.NoError(t, err)

	for _, key := range []string{"molecule", "verify", "pytest"} {
		_, err := os.Stat(ref.Metadata[key])
		assert.NoError(t, err, "missing %s file", key)
	}
	verify, err := os.ReadFile(ref.Metadata["verify"])
	require.NoError(t, err)
	assert.Contains(t, string(verify), "configure vlan")
	assert.Equal(t, int64(3), sess.GetMetric("artifacts", 0))
}

func TestGeneratePipelinePlatforms(t *testing.T) {
	tests := []struct {
		platform string
		rel      string
		contains string
	}{
		{"", filepath.Join(".github", "workflows", "ansible-ci.yml"), "runs-on: ubuntu-latest"},
		{"github_actions", filepath.Join(".github", "workflows", "ansible-ci.yml"), "ansible-lint"},
		{"gitlab_ci", ".gitlab-ci.yml", "stages:"},
		{"jenkins", "Jenkinsfile", "pipeline {"},
	}
	for _, tt := range tests {
		t.Run("platform_"+tt.platform, func(t *testing.T) {
			dir := t.TempDir()
			sess := session.New("run-1", nil)
			spec := testSpec()
			spec.CICD.Platform = tt.platform

			ref, err := NewPipelineGenerator(dir).GeneratePipeline(context.Background(), spec, nil, sess)
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, tt.rel), ref.Path)

			content, err := os.ReadFile(ref.Path)
			require.NoError(t, err)
			assert.Contains(t, string(content), tt.contains)
		})
	}
}

func TestGeneratePipelineUnknownPlatform(t *testing.T) {
	sess := session.New("run-1", nil)
	spec := testSpec()
	spec.CICD.Platform = "circleci"
	_, err := NewPipelineGenerator(t.TempDir()).GeneratePipeline(context.Background(), spec, nil, sess)
	assert.Error(t, err)
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, "---\nplays: []", stripFence("```yaml\n---\nplays: []\n```"))
	assert.Equal(t, "plain", stripFence("plain"))
}
