package provision

import (
	"bytes"
	"fmt"

	"caravan/internal/config"

	"gopkg.in/yaml.v3"
)

// StarterConfig returns a commented YAML configuration for a new
// application, ready to be edited and passed to `caravan deploy`
func StarterConfig(application, user, repoURL string, hosts []string) ([]byte, error) {
	if len(hosts) == 0 {
		hosts = []string{"app1.example.com"}
	}

	spec := config.ApplicationSpec{
		Name:         application,
		User:         user,
		RepoURL:      repoURL,
		Branch:       config.DefaultBranch,
		KeepReleases: config.DefaultKeepReleases,
		LinkedFiles:  []string{".env"},
		LinkedDirs:   []string{"log"},
		Tasks: map[string]config.TaskConfig{
			"reload_crontab": {
				Desc:  "Install the release crontab",
				Roles: []string{"cron"},
				Run:   []interface{}{"crontab -u {{.User}} ./config/crontab"},
			},
		},
		Hooks: []config.HookConfig{
			{Stage: "published", Position: "after", Task: "reload_crontab"},
			{Stage: "finishing_rollback", Position: "after", Task: "reload_crontab"},
		},
	}
	for i, h := range hosts {
		srv := config.Server{Host: h, Roles: []string{config.DefaultRole}}
		if i == 0 {
			srv.Roles = append(srv.Roles, "cron")
		}
		spec.Servers = append(spec.Servers, srv)
	}

	var doc yaml.Node
	if err := doc.Encode(&spec); err != nil {
		return nil, fmt.Errorf("encoding starter config: %w", err)
	}
	annotate(&doc, map[string]string{
		"application":   "Name used for the history database, locks and the webhook path",
		"linked_files":  "Files kept in shared/ and symlinked into every release",
		"linked_dirs":   "Directories kept in shared/ and symlinked into every release",
		"keep_releases": "Older release directories are removed after each deploy",
		"hooks":         "Stages: starting, updated, publishing, published, finishing, finishing_rollback",
	})

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encoding starter config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// annotate attaches head comments to top level mapping keys
func annotate(node *yaml.Node, comments map[string]string) {
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if c, ok := comments[node.Content[i].Value]; ok {
			node.Content[i].HeadComment = c
		}
	}
}
