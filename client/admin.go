package client

import "github.com/trusted-setup/phase1-coordinator/ceremony"

// GetContributions fetches the public audit list of every submitted
// ContributionInfo from the coordinator at baseURL.
func GetContributions(baseURL string) ([]ceremony.ContributionInfo, error) {
	return newTransport(baseURL).contributions()
}

// ForceUpdate triggers one queue-tick sweep on the coordinator at
// baseURL, debug tooling for operators rather than part of the
// contributor workflow (spec.md §6: update-coordinator).
func ForceUpdate(baseURL, adminToken string) error {
	return newTransport(baseURL).adminPost("/update", adminToken)
}

// ForceVerify triggers one verification sweep on the coordinator at
// baseURL (spec.md §6: verify-contributions, debug only).
func ForceVerify(baseURL, adminToken string) error {
	return newTransport(baseURL).adminPost("/verify", adminToken)
}
