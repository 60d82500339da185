package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engiflow/engiflow-chat/internal/config"
	"github.com/engiflow/engiflow-chat/internal/domain"
)

func newTestClient(t *testing.T, router *gin.Engine) *Client {
	t.Helper()
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return NewClient(config.APIConfig{
		BaseURL: srv.URL,
		Token:   "test-token",
		Timeout: 5 * time.Second,
	})
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	return r
}

func TestBearerTokenAttached(t *testing.T) {
	r := newRouter()
	var gotAuth string
	r.GET("/project-rooms", func(c *gin.Context) {
		gotAuth = c.GetHeader("Authorization")
		c.JSON(http.StatusOK, []domain.ProjectRoom{})
	})

	c := newTestClient(t, r)
	_, err := c.ListProjectRooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-token", gotAuth)
}

func TestListProjectRoomsNotFoundIsEmpty(t *testing.T) {
	r := newRouter()
	r.GET("/project-rooms", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "no rooms"})
	})

	c := newTestClient(t, r)
	rooms, err := c.ListProjectRooms(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestListChatRoomsNotFoundIsEmpty(t *testing.T) {
	r := newRouter()
	r.GET("/project-rooms/:id/chat-rooms", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	c := newTestClient(t, r)
	rooms, err := c.ListChatRooms(context.Background(), "p1")
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestFetchMessagesEnvelopeShape(t *testing.T) {
	r := newRouter()
	r.GET("/messages/room/:id", func(c *gin.Context) {
		assert.Equal(t, "1", c.Query("page"))
		assert.Equal(t, "2", c.Query("limit"))
		c.JSON(http.StatusOK, gin.H{
			"data": []gin.H{
				{"_id": "m3", "chatRoom": "r1", "sender": "u1", "content": "three"},
				{"_id": "m2", "chatRoom": "r1", "sender": "u1", "content": "two"},
			},
			"meta": gin.H{"total": 3, "page": 1, "limit": 2, "pages": 2},
		})
	})

	c := newTestClient(t, r)
	page, err := c.FetchMessages(context.Background(), "r1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "m3", page.Messages[0].ID)
}

func TestFetchMessagesBareArrayShape(t *testing.T) {
	r := newRouter()
	r.GET("/messages/room/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, []gin.H{
			{"_id": "m1", "chatRoom": "r1", "sender": "u1", "content": "one"},
		})
	})

	c := newTestClient(t, r)
	page, err := c.FetchMessages(context.Background(), "r1", 1, 20)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 1, page.TotalPages, "bare arrays carry no pagination")
}

func TestFetchMessagesWrapperShape(t *testing.T) {
	r := newRouter()
	r.GET("/messages/room/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"messages": []gin.H{
			{"_id": "m1", "chatRoom": "r1", "sender": "u1", "content": "one"},
		}})
	})

	c := newTestClient(t, r)
	page, err := c.FetchMessages(context.Background(), "r1", 1, 20)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "m1", page.Messages[0].ID)
}

func TestSendMessageJSON(t *testing.T) {
	r := newRouter()
	r.POST("/messages", func(c *gin.Context) {
		var body map[string]string
		require.NoError(t, c.BindJSON(&body))
		assert.Equal(t, "r1", body["chatRoomId"])
		assert.Equal(t, "hello", body["content"])
		assert.Equal(t, "text", body["type"])
		c.JSON(http.StatusCreated, gin.H{"_id": "m1", "chatRoom": "r1", "sender": "u1", "content": "hello"})
	})

	c := newTestClient(t, r)
	msg, err := c.SendMessage(context.Background(), "r1", "hello", domain.MessageTypeText, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "m1", msg.ID)
}

func TestSendMessageEmptyContentRejectedLocally(t *testing.T) {
	var hits atomic.Int32
	r := newRouter()
	r.POST("/messages", func(c *gin.Context) {
		hits.Add(1)
		c.Status(http.StatusCreated)
	})

	c := newTestClient(t, r)
	_, err := c.SendMessage(context.Background(), "r1", "   ", domain.MessageTypeText, nil, nil)
	assert.ErrorIs(t, err, domain.ErrEmptyContent)
	assert.Zero(t, hits.Load(), "validation failures never reach the server")
}

func TestSendMessageMultipart(t *testing.T) {
	r := newRouter()
	r.POST("/messages", func(c *gin.Context) {
		form, err := c.MultipartForm()
		require.NoError(t, err)
		assert.Equal(t, "r1", form.Value["chatRoomId"][0])
		assert.Equal(t, "Attachment", form.Value["content"][0], "empty body gets the placeholder caption")
		assert.Equal(t, "file", form.Value["type"][0])
		require.Len(t, form.File["attachments"], 2)
		c.JSON(http.StatusCreated, gin.H{"_id": "m9", "chatRoom": "r1", "sender": "u1", "content": "Attachment", "type": "file"})
	})

	c := newTestClient(t, r)
	uploads := []Upload{
		{Filename: "a.pdf", MimeType: "application/pdf", Size: 4, Content: strings.NewReader("aaaa")},
		{Filename: "b.png", MimeType: "image/png", Size: 4, Content: strings.NewReader("bbbb")},
	}

	var last int
	msg, err := c.SendMessage(context.Background(), "r1", "", domain.MessageTypeFile, uploads, func(pct int) {
		assert.GreaterOrEqual(t, pct, last)
		last = pct
	})
	require.NoError(t, err)
	assert.Equal(t, "m9", msg.ID)
	assert.Equal(t, 100, last, "progress ends at 100")
}

func TestSendMessageOversizedAttachmentRejected(t *testing.T) {
	var hits atomic.Int32
	r := newRouter()
	r.POST("/messages", func(c *gin.Context) {
		hits.Add(1)
		c.Status(http.StatusCreated)
	})

	c := newTestClient(t, r)
	uploads := []Upload{
		{Filename: "fine.txt", Size: 10, Content: strings.NewReader("0123456789")},
		{Filename: "monster.iso", Size: domain.MaxAttachmentSize + 1, Content: strings.NewReader("")},
	}
	_, err := c.SendMessage(context.Background(), "r1", "", domain.MessageTypeFile, uploads, nil)

	var oversize *domain.OversizeError
	require.ErrorAs(t, err, &oversize)
	assert.Equal(t, []string{"monster.iso"}, oversize.Filenames)
	assert.Zero(t, hits.Load())
}

func TestEditMessageValidation(t *testing.T) {
	c := NewClient(config.APIConfig{BaseURL: "http://unused.invalid"})
	_, err := c.EditMessage(context.Background(), "m1", "")
	assert.ErrorIs(t, err, domain.ErrEmptyContent)

	_, err = c.EditMessage(context.Background(), "m1", strings.Repeat("x", domain.MaxContentLen+1))
	assert.ErrorIs(t, err, domain.ErrContentTooLong)
}

func TestToggleReactionReturnsFullMessage(t *testing.T) {
	r := newRouter()
	r.POST("/messages/:id/reaction", func(c *gin.Context) {
		var body map[string]string
		require.NoError(t, c.BindJSON(&body))
		assert.Equal(t, "🎉", body["emoji"])
		c.JSON(http.StatusOK, gin.H{
			"_id": c.Param("id"), "chatRoom": "r1", "sender": "u1", "content": "hi",
			"reactions": []gin.H{{"user": "u2", "emoji": "🎉"}},
		})
	})

	c := newTestClient(t, r)
	msg, err := c.ToggleReaction(context.Background(), "m1", "🎉")
	require.NoError(t, err)
	require.Len(t, msg.Reactions, 1)
	assert.True(t, msg.HasReaction("u2", "🎉"))
}

func TestToggleReactionDoubleToggleRestores(t *testing.T) {
	r := newRouter()
	var reactions []gin.H
	r.POST("/messages/:id/reaction", func(c *gin.Context) {
		var body map[string]string
		require.NoError(t, c.BindJSON(&body))
		if len(reactions) == 0 {
			reactions = []gin.H{{"user": "u1", "emoji": body["emoji"]}}
		} else {
			reactions = nil
		}
		c.JSON(http.StatusOK, gin.H{
			"_id": c.Param("id"), "chatRoom": "r1", "sender": "u1", "content": "hi",
			"reactions": reactions,
		})
	})

	c := newTestClient(t, r)
	msg, err := c.ToggleReaction(context.Background(), "m1", "👍")
	require.NoError(t, err)
	assert.True(t, msg.HasReaction("u1", "👍"))

	msg, err = c.ToggleReaction(context.Background(), "m1", "👍")
	require.NoError(t, err)
	assert.Empty(t, msg.Reactions, "second toggle restores the original state")
}

func TestDeleteMessage(t *testing.T) {
	r := newRouter()
	r.DELETE("/messages/:id", func(c *gin.Context) {
		assert.Equal(t, "m1", c.Param("id"))
		c.Status(http.StatusNoContent)
	})

	c := newTestClient(t, r)
	require.NoError(t, c.DeleteMessage(context.Background(), "m1"))
}

func TestSearchMessages(t *testing.T) {
	r := newRouter()
	r.GET("/messages/search", func(c *gin.Context) {
		assert.Equal(t, "r1", c.Query("roomId"))
		assert.Equal(t, "bolt", c.Query("query"))
		c.JSON(http.StatusOK, gin.H{
			"data": []gin.H{{"_id": "m1", "chatRoom": "r1", "sender": "u1", "content": "bolt spec"}},
			"meta": gin.H{"total": 1, "page": 1, "limit": 20, "pages": 1},
		})
	})

	c := newTestClient(t, r)
	res, err := c.SearchMessages(context.Background(), "r1", "bolt", 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Total)
	require.Len(t, res.Messages, 1)
}

func TestReadMarkers(t *testing.T) {
	r := newRouter()
	var msgRead, roomRead string
	r.PUT("/messages/:id/read", func(c *gin.Context) {
		msgRead = c.Param("id")
		c.Status(http.StatusNoContent)
	})
	r.PUT("/chat-rooms/:id/read", func(c *gin.Context) {
		roomRead = c.Param("id")
		c.Status(http.StatusNoContent)
	})

	c := newTestClient(t, r)
	require.NoError(t, c.MarkMessageRead(context.Background(), "m1"))
	require.NoError(t, c.MarkRoomRead(context.Background(), "r1"))
	assert.Equal(t, "m1", msgRead)
	assert.Equal(t, "r1", roomRead)
}

func TestAPIErrorMessageExtraction(t *testing.T) {
	r := newRouter()
	r.GET("/messages/room/:id", func(c *gin.Context) {
		c.JSON(http.StatusForbidden, gin.H{"error": gin.H{"code": "FORBIDDEN", "message": "not a participant"}})
	})
	r.DELETE("/messages/:id", func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "cannot delete"})
	})

	c := newTestClient(t, r)
	_, err := c.FetchMessages(context.Background(), "r1", 1, 20)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "FORBIDDEN", apiErr.Code)
	assert.Contains(t, apiErr.Message, "not a participant")
	assert.False(t, IsNotFound(err))

	err = c.DeleteMessage(context.Background(), "m1")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "cannot delete", apiErr.Message)
}

func TestEnvelopeUnwrapped(t *testing.T) {
	r := newRouter()
	r.PUT("/messages/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    gin.H{"_id": "m1", "chatRoom": "r1", "sender": "u1", "content": "edited", "isEdited": true},
		})
	})

	c := newTestClient(t, r)
	msg, err := c.EditMessage(context.Background(), "m1", "edited")
	require.NoError(t, err)
	assert.Equal(t, "edited", msg.Content)
	assert.True(t, msg.IsEdited)
}
