package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/trusted-setup/phase1-coordinator/ceremony"
)

// transport is the thin HTTP binding onto the coordinator's REST
// surface, grounded on the teacher's net/http client usage pattern
// (a shared *http.Client with an explicit per-call timeout rather
// than a package-level default).
type transport struct {
	baseURL string
	http    *http.Client
}

func newTransport(baseURL string) *transport {
	return &transport{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type queueStatusWire struct {
	Status   string `json:"status"`
	Position int    `json:"position,omitempty"`
	Size     int    `json:"size,omitempty"`
}

func (t *transport) joinQueue(pubkey string) error {
	return t.postJSON("/contributor/join_queue", map[string]string{"pubkey": pubkey}, nil)
}

func (t *transport) queueStatus(pubkey string) (queueStatusWire, error) {
	var status queueStatusWire
	err := t.getJSON("/contributor/queue_status?pubkey="+url.QueryEscape(pubkey), &status)
	return status, err
}

func (t *transport) lockChunk(pubkey string) (ceremony.LockedLocators, error) {
	var locked ceremony.LockedLocators
	err := t.postJSON("/contributor/lock_chunk", map[string]string{"pubkey": pubkey}, &locked)
	return locked, err
}

func (t *transport) challenge(locator ceremony.Locator) ([]byte, error) {
	path := fmt.Sprintf("/contributor/challenge?round=%s&chunk=%s&contribution=%s&verified=%t",
		formatUint(uint64(locator.RoundHeight)), formatUint(locator.ChunkID), formatUint(locator.ContributionID), locator.Verified)
	resp, err := t.http.Get(t.baseURL + path)
	if err != nil {
		return nil, ceremony.WrapError(ceremony.ErrNetwork, "challenge request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, wireError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (t *transport) uploadChunk(locator ceremony.Locator, contribution, signature []byte) error {
	body := struct {
		ContributionLocator       ceremony.Locator `json:"contribution_locator"`
		Contribution              []byte           `json:"contribution"`
		ContributionFileSignature []byte           `json:"contribution_file_signature"`
	}{
		ContributionLocator:       locator,
		Contribution:              contribution,
		ContributionFileSignature: signature,
	}
	return t.postJSON("/upload/chunk", body, nil)
}

func (t *transport) contributeChunk(pubkey string, chunkID uint64) (ceremony.Locator, error) {
	var out struct {
		ContributionLocator ceremony.Locator `json:"contribution_locator"`
	}
	err := t.postJSON("/contributor/contribute_chunk", map[string]interface{}{"pubkey": pubkey, "chunk_id": chunkID}, &out)
	return out.ContributionLocator, err
}

func (t *transport) heartbeat(pubkey string) error {
	return t.postJSON("/contributor/heartbeat", map[string]string{"pubkey": pubkey}, nil)
}

func (t *transport) submitContributionInfo(info ceremony.ContributionInfo) error {
	return t.postJSON("/contributor/contribution_info", info, nil)
}

func (t *transport) tasksLeft(pubkey string) (int, error) {
	var n int
	err := t.getJSON("/contributor/get_tasks_left?pubkey="+url.QueryEscape(pubkey), &n)
	return n, err
}

// contributions fetches the public audit list of every submitted
// ContributionInfo, backing the CLI's get-contributions subcommand.
func (t *transport) contributions() ([]ceremony.ContributionInfo, error) {
	var out []ceremony.ContributionInfo
	err := t.getJSON("/contributions", &out)
	return out, err
}

// adminPost calls one of the bearer-token-gated admin endpoints
// (/update, /verify, /stop), backing the CLI's debug-only
// update-coordinator and verify-contributions subcommands.
func (t *transport) adminPost(path, adminToken string) error {
	req, err := http.NewRequest(http.MethodPost, t.baseURL+path, nil)
	if err != nil {
		return ceremony.WrapError(ceremony.ErrUnknown, "build admin request", err)
	}
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := t.http.Do(req)
	if err != nil {
		return ceremony.WrapError(ceremony.ErrNetwork, "admin request failed: "+path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return wireError(resp)
	}
	return nil
}

func (t *transport) postJSON(path string, body, out interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return ceremony.WrapError(ceremony.ErrUnknown, "encode request body", err)
	}
	resp, err := t.http.Post(t.baseURL+path, "application/json", bytes.NewReader(buf))
	if err != nil {
		return ceremony.WrapError(ceremony.ErrNetwork, "request failed: "+path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return wireError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (t *transport) getJSON(path string, out interface{}) error {
	resp, err := t.http.Get(t.baseURL + path)
	if err != nil {
		return ceremony.WrapError(ceremony.ErrNetwork, "request failed: "+path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return wireError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func wireError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Error == "" {
		body.Error = resp.Status
	}
	return ceremony.NewError(ceremony.ErrNetwork, body.Error)
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
