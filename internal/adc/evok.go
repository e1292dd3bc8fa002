package adc

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultEvokCircuit maps channel N to EVOK analog input circuit "1_0N".
const DefaultEvokCircuit = "1_%02d"

// EvokReader polls analog inputs from a Unipi EVOK REST API.
type EvokReader struct {
	address       string
	circuitFormat string
	httpClient    *http.Client
	now           func() time.Time
}

type evokDevice struct {
	Value   float64 `json:"value"`
	Circuit string  `json:"circuit"`
	Dev     string  `json:"dev"`
}

// NewEvokReader creates a reader for the EVOK instance at address (host:port).
func NewEvokReader(address, circuitFormat string) *EvokReader {
	if circuitFormat == "" {
		circuitFormat = DefaultEvokCircuit
	}
	return &EvokReader{
		address:       "http://" + address,
		circuitFormat: circuitFormat,
		httpClient:    &http.Client{Timeout: 2 * time.Second},
		now:           time.Now,
	}
}

// ReadRaw fetches /rest/ai/<circuit> and returns its value.
func (r *EvokReader) ReadRaw(channel int) (float64, time.Time, error) {
	circuit := fmt.Sprintf(r.circuitFormat, channel)
	address := fmt.Sprintf("%s/rest/ai/%s", r.address, circuit)

	resp, err := r.httpClient.Get(address)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to get data from EVOK: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, time.Time{}, fmt.Errorf("EVOK circuit %s: status %d", circuit, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to read response body: %w", err)
	}

	var data evokDevice
	if err := json.Unmarshal(body, &data); err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to parse received data: %w", err)
	}
	return data.Value, r.now(), nil
}
