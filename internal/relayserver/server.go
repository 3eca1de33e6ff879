package relayserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"cipherchat/internal/domain"
)

const userKey = "relay.user"

// Server is the relay's HTTP and websocket front end.
type Server struct {
	store  *memoryStore
	hub    *hub
	log    zerolog.Logger
	engine *gin.Engine
}

// New returns a relay with empty state.
func New(log zerolog.Logger) *Server {
	s := &Server{
		store: newMemoryStore(),
		log:   log.With().Str("component", "relay").Logger(),
	}
	s.hub = newHub(s.store, s.log)
	s.engine = s.routes()
	return s
}

// Handler returns the relay's http.Handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Shutdown closes every websocket connection.
func (s *Server) Shutdown() { s.hub.closeAll() }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())

	api := r.Group("/api")
	api.POST("/register", s.handleRegister)
	api.POST("/login", s.handleLogin)

	authed := api.Group("", s.requireUser())
	authed.POST("/logout", s.handleLogout)
	authed.GET("/me", s.handleMe)
	authed.GET("/users/search", s.handleSearch)
	authed.GET("/chats", s.handleListChats)
	authed.POST("/chats", s.handleCreateChat)
	authed.GET("/chats/:id", s.handleGetChat)
	authed.GET("/messages/:chatId", s.handleMessages)
	authed.GET("/stream", s.hub.serve)
	return r
}

// accessLog records method, path, remote, status, bytes and duration for each
// request.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Str("remote", c.ClientIP()).
			Int("status", c.Writer.Status()).
			Int("bytes", c.Writer.Size()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if t, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(t)
	}
	return ""
}

func (s *Server) requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, err := s.store.authenticate(bearerToken(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(userKey, u)
		c.Next()
	}
}

func currentUser(c *gin.Context) domain.User {
	return c.MustGet(userKey).(domain.User)
}

// fail maps store errors to statuses.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrUserExists):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleRegister(c *gin.Context) {
	var reg domain.Registration
	if err := c.ShouldBindJSON(&reg); err != nil {
		s.fail(c, errors.Wrap(ErrInvalidRequest, err.Error()))
		return
	}
	u, err := s.store.register(reg)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info().Str("user_id", u.ID.String()).Bool("public_key", u.PublicKey != "").Msg("account registered")
	c.JSON(http.StatusCreated, gin.H{"user": u})
}

func (s *Server) handleLogin(c *gin.Context) {
	var creds domain.Credentials
	if err := c.ShouldBindJSON(&creds); err != nil {
		s.fail(c, errors.Wrap(ErrInvalidRequest, err.Error()))
		return
	}
	sess, err := s.store.login(creds)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) handleLogout(c *gin.Context) {
	s.store.logout(bearerToken(c))
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

func (s *Server) handleSearch(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.searchUsers(currentUser(c).ID, c.Query("q")))
}

func (s *Server) handleListChats(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.listChats(currentUser(c).ID))
}

func (s *Server) handleCreateChat(c *gin.Context) {
	var req domain.NewConversation
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.Wrap(ErrInvalidRequest, err.Error()))
		return
	}
	conv, err := s.store.createChat(currentUser(c).ID, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.log.Info().
		Str("conversation_id", conv.ID.String()).
		Int("participants", len(conv.Participants)).
		Int("wrapped_secrets", len(conv.WrappedSecrets)).
		Msg("conversation created")
	c.JSON(http.StatusCreated, conv)
}

func (s *Server) handleGetChat(c *gin.Context) {
	conv, err := s.store.chat(currentUser(c).ID, domain.ConversationID(c.Param("id")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) handleMessages(c *gin.Context) {
	msgs, err := s.store.history(currentUser(c).ID, domain.ConversationID(c.Param("chatId")))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}
