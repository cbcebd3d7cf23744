package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/flecs-technologies/flecs-core/pkg/apierr"
)

// apiClient is a thin wrapper CLI subcommands use to talk to a running
// serve process over loopback HTTP, translating non-2xx responses back
// into an apierr.Error so main's exit-code mapping applies uniformly
// whether the failure came from the in-process sorcerer or a remote call.
type apiClient struct {
	baseURL string
}

func newAPIClient(cmdFlags flagGetter) *apiClient {
	addr, _ := cmdFlags.GetString("api-addr")
	return &apiClient{baseURL: addr}
}

type flagGetter interface {
	GetString(name string) (string, error)
}

func (c *apiClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return apierr.Wrap(apierr.KindValidation, "encode request body", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return apierr.Wrap(apierr.KindValidation, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return apierr.Wrap(apierr.KindTransientIO, "reach flecs-core api", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errBody struct {
			AdditionalInfo string `json:"additional_info"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		msg := errBody.AdditionalInfo
		if msg == "" {
			msg = fmt.Sprintf("request failed with status %d", resp.StatusCode)
		}
		return apierr.New(kindForStatus(resp.StatusCode), msg)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func kindForStatus(status int) apierr.Kind {
	switch status {
	case http.StatusBadRequest:
		return apierr.KindValidation
	case http.StatusNotFound:
		return apierr.KindNotFound
	default:
		return apierr.KindTransientIO
	}
}
