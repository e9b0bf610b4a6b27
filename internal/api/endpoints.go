package api

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/alexjbarnes/hrchat/internal/models"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PrivateConversationRequest is the body of POST /conversations/private.
type PrivateConversationRequest struct {
	PartnerID int64 `json:"partner_id"`
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) models.Result[models.AuthResult] {
	body, err := jsonBody(LoginRequest{Email: email, Password: password})
	if err != nil {
		return models.Fail[models.AuthResult](0, err.Error(), false)
	}

	return call[models.AuthResult](ctx, c, request{
		method:      http.MethodPost,
		endpoint:    "/auth/login",
		body:        body,
		contentType: "application/json",
	})
}

// GetConversations lists the user's conversations.
func (c *Client) GetConversations(ctx context.Context) models.Result[[]models.Conversation] {
	return call[[]models.Conversation](ctx, c, request{
		method:   http.MethodGet,
		endpoint: "/conversations",
	})
}

// GetConversationDetail returns a conversation with its newest page of
// messages.
func (c *Client) GetConversationDetail(ctx context.Context, conversationID int64) models.Result[models.ConversationDetail] {
	return call[models.ConversationDetail](ctx, c, request{
		method:   http.MethodGet,
		endpoint: "/conversations/" + strconv.FormatInt(conversationID, 10),
	})
}

// GetConversationMessages returns the page of messages strictly older
// than beforeID, newest first. A beforeID of 0 returns the newest page.
func (c *Client) GetConversationMessages(ctx context.Context, conversationID, beforeID int64) models.Result[[]models.WireMessage] {
	endpoint := "/conversations/" + strconv.FormatInt(conversationID, 10) + "/messages"
	if beforeID != 0 {
		endpoint += "?before=" + strconv.FormatInt(beforeID, 10)
	}

	return call[[]models.WireMessage](ctx, c, request{
		method:   http.MethodGet,
		endpoint: endpoint,
	})
}

// CreatePrivateConversation opens (or returns the existing) one-to-one
// conversation with partnerID.
func (c *Client) CreatePrivateConversation(ctx context.Context, partnerID int64) models.Result[models.Conversation] {
	body, err := jsonBody(PrivateConversationRequest{PartnerID: partnerID})
	if err != nil {
		return models.Fail[models.Conversation](0, err.Error(), false)
	}

	return call[models.Conversation](ctx, c, request{
		method:      http.MethodPost,
		endpoint:    "/conversations/private",
		body:        body,
		contentType: "application/json",
	})
}

// SearchUsers searches the user directory. Cancelling ctx aborts the
// request.
func (c *Client) SearchUsers(ctx context.Context, query string) models.Result[[]models.User] {
	return call[[]models.User](ctx, c, request{
		method:   http.MethodGet,
		endpoint: "/users/search?q=" + url.QueryEscape(query),
	})
}
