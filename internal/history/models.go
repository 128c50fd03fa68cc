package history

import "caravan/internal/release"

// ApplicationStatus summarises the releases of one application
type ApplicationStatus struct {
	Application   string           `json:"application"`
	ActiveRelease *release.Record  `json:"active_release,omitempty"`
	LatestRelease *release.Record  `json:"latest_release,omitempty"`
	RecentHistory []release.Record `json:"recent_history"`
}
