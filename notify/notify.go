// SPDX-License-Identifier: GPL-3.0-or-later
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mailwatch/go-imap-ingest/log"

	"github.com/sirupsen/logrus"
)

const (
	loginPath        = "/api/v1/account/login/"
	notificationPath = "/api/v1/notifications/"

	requestTimeout = 30 * time.Second
)

// Client sends new-mail notifications to a webhook endpoint. Every send
// logs in first and authorizes the notification with the returned bearer
// token. Implements domain.Notifier.
type Client struct {
	baseUrl  string
	username string
	password string

	httpClient *http.Client

	l logrus.FieldLogger
}

func NewClient(baseUrl, username, password string) *Client {
	return &Client{
		baseUrl:  strings.TrimRight(baseUrl, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		l: log.Logger(log.LOG_NOTIFY),
	}
}

type loginResponse struct {
	Access string `json:"access"`
}

type notification struct {
	Body  string            `json:"body"`
	Tag   string            `json:"tag"`
	Extra notificationExtra `json:"extra"`
}

type notificationExtra struct {
	Alertname string `json:"alertname"`
	Mailbox   string `json:"mailbox"`
	Count     int    `json:"count"`
}

func (c *Client) NotifyNewMail(ctx context.Context, mailbox string, count int) error {
	token, err := c.login(ctx)
	if err != nil {
		return fmt.Errorf("could not login to notification endpoint: %w", err)
	}

	body := &notification{
		Body: fmt.Sprintf("%d new messages ingested from %s", count, mailbox),
		Tag:  "mailbox",
		Extra: notificationExtra{
			Alertname: "Mailbox alert",
			Mailbox:   mailbox,
			Count:     count,
		},
	}

	err = c.postJson(ctx, notificationPath, token, body, nil)
	if err != nil {
		return fmt.Errorf("could not send notification: %w", err)
	}

	c.l.WithFields(logrus.Fields{"mailbox": mailbox, "count": count}).Debug("Sent notification")
	return nil
}

func (c *Client) login(ctx context.Context) (string, error) {
	credentials := map[string]string{
		"username": c.username,
		"password": c.password,
	}

	response := &loginResponse{}
	err := c.postJson(ctx, loginPath, "", credentials, response)
	if err != nil {
		return "", err
	}

	if len(response.Access) == 0 {
		return "", fmt.Errorf("login response contained no access token")
	}

	return response.Access, nil
}

func (c *Client) postJson(ctx context.Context, path string, token string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("could not marshal request body: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseUrl+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if len(token) > 0 {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("could not call %s: %w", path, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK && response.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status %d from %s", response.StatusCode, path)
	}

	if out == nil {
		return nil
	}

	err = json.NewDecoder(response.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("could not decode response from %s: %w", path, err)
	}

	return nil
}
