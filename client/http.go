package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// apiError is the error body the node writes.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// get performs a GET request and decodes the JSON response.
func (c *Client) get(path string, result any) error {
	resp, err := c.http.Get(c.url(path))
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError(http.MethodGet, path, resp)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// postJSON performs a POST request with JSON body and decodes the JSON response.
func (c *Client) postJSON(path string, body any, result any) error {
	resp, err := c.post(path, body)
	if err != nil {
		return err
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return statusError(http.MethodPost, path, resp)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// postResult posts body and decodes a transition result. The node answers
// failed transitions with a non-2xx status and a result body, so only a
// 400 is a request error.
func (c *Client) postResult(path string, body any, result any) error {
	resp, err := c.post(path, body)
	if err != nil {
		return err
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode == http.StatusBadRequest {
		return statusError(http.MethodPost, path, resp)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// post sends a JSON body.
func (c *Client) post(path string, body any) (*http.Response, error) {
	jsonBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body:\n%w", err)
	}

	resp, err := c.http.Post(c.url(path), "application/json", bytes.NewReader(jsonBytes))
	if err != nil {
		return nil, fmt.Errorf("POST %s:\n%w", path, err)
	}

	return resp, nil
}

// delete performs a DELETE request expecting 204.
func (c *Client) delete(path string) error {
	req, err := http.NewRequest(http.MethodDelete, c.url(path), nil)
	if err != nil {
		return fmt.Errorf("build request:\n%w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("DELETE %s:\n%w", path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		return statusError(http.MethodDelete, path, resp)
	}

	return nil
}

// url returns the absolute URL of path on the node.
func (c *Client) url(path string) string {
	return "http://" + c.nodeAddr + path
}

// statusError builds an error from an unexpected response.
func statusError(method, path string, resp *http.Response) error {
	var body apiError
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil || body.Error == "" {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if body.Code != "" {
		return fmt.Errorf("%s %s: status %d: %s (%s)", method, path, resp.StatusCode, body.Error, body.Code)
	}

	return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, body.Error)
}
