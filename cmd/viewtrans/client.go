package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/hazyhaar/viewtrans/viewtrans"
)

type apiError struct {
	Error string `json:"error"`
}

// client talks to the daemon control API.
type client struct {
	http *resty.Client
}

func newClient(addr string) *client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetTimeout(10*time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "viewtrans-cli/"+viewtrans.Version).
		SetRetryCount(2).
		SetRetryWaitTime(300 * time.Millisecond).
		AddRetryCondition(func(_ *resty.Response, err error) bool {
			return err != nil
		})
	return &client{http: c}
}

// Command sends start_translation or stop_translation to tabID.
func (c *client) Command(ctx context.Context, tabID string, start bool) (viewtrans.Stats, error) {
	action := "stop"
	if start {
		action = "start"
	}
	var st viewtrans.Stats
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&st).
		SetError(&apiError{}).
		Post("/api/tabs/" + url.PathEscape(tabID) + "/" + action)
	if err := check(resp, err); err != nil {
		return viewtrans.Stats{}, err
	}
	return st, nil
}

// Tab returns the stats of one tab.
func (c *client) Tab(ctx context.Context, tabID string) (viewtrans.Stats, error) {
	var st viewtrans.Stats
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&st).
		SetError(&apiError{}).
		Get("/api/tabs/" + url.PathEscape(tabID))
	if err := check(resp, err); err != nil {
		return viewtrans.Stats{}, err
	}
	return st, nil
}

// Tabs returns the stats of every tab.
func (c *client) Tabs(ctx context.Context) ([]viewtrans.Stats, error) {
	var tabs []viewtrans.Stats
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&tabs).
		SetError(&apiError{}).
		Get("/api/tabs")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return tabs, nil
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status(), e.Error)
		}
		return fmt.Errorf("%s", resp.Status())
	}
	return nil
}
