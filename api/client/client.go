package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/vocdoni/vocdoni-qf/api"
	"github.com/vocdoni/vocdoni-qf/log"
	"github.com/vocdoni/vocdoni-qf/types"
)

const (
	// HTTPGET is the method string used for calling Request()
	HTTPGET = http.MethodGet

	errCodeNot200 = "API error"

	// DefaultRetries is the number of attempts of a request that cannot reach
	// the server.
	DefaultRetries = 3
	// DefaultTimeout is the default timeout for the HTTP client
	DefaultTimeout = 10 * time.Second

	retryDelay    = 500 * time.Millisecond
	maxLoggedBody = 512
)

// HTTPclient is the coordinator API HTTP client.
type HTTPclient struct {
	c       *http.Client
	host    *url.URL
	retries int
}

// New connects to the API host and returns the handle
func New(host string) (*HTTPclient, error) {
	hostURL, err := url.Parse(host)
	if err != nil {
		return nil, err
	}

	tr := &http.Transport{
		IdleConnTimeout:    DefaultTimeout,
		DisableCompression: false,
		WriteBufferSize:    1 * 1024 * 1024, // 1 MiB
		ReadBufferSize:     1 * 1024 * 1024, // 1 MiB
	}
	c := &HTTPclient{
		c:       &http.Client{Transport: tr, Timeout: DefaultTimeout},
		host:    hostURL,
		retries: DefaultRetries,
	}
	log.Debugw("http client created", "host", hostURL.String())
	data, status, err := c.Request(HTTPGET, nil, nil, api.PingEndpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	return c, nil
}

// SetHostAddr configures the host address of the API server.
func (c *HTTPclient) SetHostAddr(host *url.URL) error {
	c.host = host
	data, status, err := c.Request(HTTPGET, nil, nil, api.PingEndpoint)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%s: %d (%s)", errCodeNot200, status, data)
	}
	return nil
}

// SetRetries configures the number of attempts of every request. Values
// lower than one mean a single attempt.
func (c *HTTPclient) SetRetries(n int) {
	c.retries = n
}

// SetTimeout configures the timeout for the HTTP client.
func (c *HTTPclient) SetTimeout(d time.Duration) {
	c.c.Timeout = d
	if c.c.Transport != nil {
		if _, ok := c.c.Transport.(*http.Transport); ok {
			c.c.Transport.(*http.Transport).ResponseHeaderTimeout = d
		}
	}
}

// Request sends a request with the method to the path joined from urlPath.
// A non nil jsonBody is sent JSON encoded. params holds query parameters as
// key/value pairs; an unpaired trailing key is ignored. A request that fails
// to reach the server is sent again, up to the configured retries. It returns
// the response body and status code.
func (c *HTTPclient) Request(method string, jsonBody any, params []string, urlPath ...string) ([]byte, int, error) {
	var body []byte
	if jsonBody != nil {
		var err error
		if body, err = json.Marshal(jsonBody); err != nil {
			return nil, 0, fmt.Errorf("failed to marshal JSON: %w", err)
		}
	}

	u, err := url.Parse(c.host.String())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse host URL: %w", err)
	}
	u.Path = path.Join(u.Path, path.Join(urlPath...))
	if len(params) > 0 {
		values := url.Values{}
		for i := 0; i+1 < len(params); i += 2 {
			values.Set(params[i], params[i+1])
		}
		u.RawQuery = values.Encode()
	}

	headers := http.Header{}
	if jsonBody != nil {
		headers.Set("Content-Type", "application/json")
		headers.Set("Accept", "application/json")
	}
	logBody := body
	if len(logBody) > maxLoggedBody {
		logBody = logBody[:maxLoggedBody]
	}
	log.Debugw("http client request", "type", method, "url", u.String(), "body", string(logBody))

	attempts := max(c.retries, 1)
	var resp *http.Response
	for i := 1; ; i++ {
		// the body reader is consumed by every attempt
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}
		req, err := http.NewRequest(method, u.String(), reqBody)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header = headers
		if resp, err = c.c.Do(req); err == nil {
			break
		}
		if i == attempts {
			return nil, 0, fmt.Errorf("http request failed after %d attempts: %w", attempts, err)
		}
		log.Warnw("http request failed", "error", err.Error(), "attempt", i, "attempts", attempts)
		time.Sleep(retryDelay)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return data, resp.StatusCode, nil
}

// get performs a GET request to the endpoint and decodes the JSON response
// into out. Non 200 responses are returned as errors.
func (c *HTTPclient) get(out any, urlPath ...string) error {
	data, status, err := c.Request(HTTPGET, nil, nil, urlPath...)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		apiErr := &api.ErrorResponse{}
		if err := json.Unmarshal(data, apiErr); err != nil {
			return fmt.Errorf("%s: %d (%s)", errCodeNot200, status, bytes.TrimSpace(data))
		}
		return fmt.Errorf("%s: %d: %s (code %d)", errCodeNot200, status, apiErr.Error, apiErr.Code)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Round returns the parameters and status of the round.
func (c *HTTPclient) Round(id *types.RoundID) (*api.RoundInfo, error) {
	info := &api.RoundInfo{}
	return info, c.get(info, "rounds", id.String())
}

// Tally returns the tally and commitments of a finalized round.
func (c *HTTPclient) Tally(id *types.RoundID) (*api.Tally, error) {
	t := &api.Tally{}
	return t, c.get(t, "rounds", id.String(), "tally")
}

// Claims returns the claims of every recipient of a finalized round.
func (c *HTTPclient) Claims(id *types.RoundID) (*api.Claims, error) {
	claims := &api.Claims{}
	return claims, c.get(claims, "rounds", id.String(), "claims")
}

// Claim returns the claim data of a recipient of a finalized round.
func (c *HTTPclient) Claim(id *types.RoundID, recipient uint64) (*api.Claim, error) {
	claim := &api.Claim{}
	return claim, c.get(claim, "rounds", id.String(), "claims", strconv.FormatUint(recipient, 10))
}

// SignUp returns the inclusion proof of the registration with the state
// index in the signup tree of the round.
func (c *HTTPclient) SignUp(id *types.RoundID, stateIndex uint64) (*api.SignUp, error) {
	signUp := &api.SignUp{}
	return signUp, c.get(signUp, "rounds", id.String(), "signups", strconv.FormatUint(stateIndex, 10))
}
