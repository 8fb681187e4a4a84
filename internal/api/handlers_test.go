package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/kibaro-app/realtime/internal/auth"
	"github.com/kibaro-app/realtime/internal/config"
	"github.com/kibaro-app/realtime/internal/database"
	"github.com/kibaro-app/realtime/internal/push"
	"github.com/kibaro-app/realtime/internal/realtime"
	"github.com/kibaro-app/realtime/internal/stats"
	"github.com/kibaro-app/realtime/internal/testutil"
	"github.com/kibaro-app/realtime/internal/types"
)

type testApp struct {
	app  *RealtimeApp
	reg  *realtime.Registry
	sink *push.MockSink
}

func newTestApp(t *testing.T, db database.NotificationRepository) *testApp {
	t.Helper()

	logger := testutil.TestLogger(t)

	st := &stats.MockStatsUpdater{}
	st.On("Incr", mock.Anything).Return()
	st.On("Decr", mock.Anything).Return()
	st.On("Get", mock.Anything).Return(0)

	reg := realtime.NewRegistry(logger, st)
	router := realtime.NewRouter(reg, logger, st)
	sink := &push.MockSink{}
	d := realtime.NewDispatcher(logger, db, reg, router, sink, st, 30*time.Second)
	tokens := auth.NewJWTVerifier([]byte("test-signing-key"))

	cfg := &config.Config{
		ServerAddr:     "127.0.0.1:0",
		AllowedOrigins: []string{"http://localhost:3000"},
	}

	return &testApp{
		app:  NewRealtimeApp(http.NewServeMux(), logger, reg, d, db, tokens, st, cfg),
		reg:  reg,
		sink: sink,
	}
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if s, ok := v.(string); ok {
		buf.WriteString(s)
		return buf
	}
	assert.NoError(t, json.NewEncoder(buf).Encode(v))
	return buf
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{name: "successful health check"},
		{name: "failed health check", mockErr: errors.New("db error")},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockNotificationRepository{}
			db.On("Ping").Return(tc.mockErr).Once()

			ta := newTestApp(t, db)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			ta.app.healthCheck(rr, req)

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code)
			} else {
				assert.Equal(t, http.StatusOK, rr.Code)
				assert.Equal(t, "OK", rr.Body.String())
			}
			db.AssertExpectations(t)
		})
	}
}

func TestCreateAccountHandler(t *testing.T) {
	expectedAccount := database.Account{
		Id:           1,
		Username:     "mamadou",
		EmailAddress: "mamadou@example.com",
		PasswordHash: "hashedpassword",
	}

	tcases := []struct {
		name         string
		body         any
		success      bool
		mockErr      error
		expectedCode int
	}{
		{
			name: "successfully creates a new account",
			body: RegisterRequest{
				Username: expectedAccount.Username,
				Email:    expectedAccount.EmailAddress,
				Password: "password",
			},
			success:      true,
			expectedCode: http.StatusCreated,
		},
		{
			name:         "fails with invalid json body",
			body:         "invalid json",
			expectedCode: http.StatusBadRequest,
		},
		{
			name: "fails with missing username",
			body: RegisterRequest{
				Email:    expectedAccount.EmailAddress,
				Password: "password",
			},
			expectedCode: http.StatusBadRequest,
		},
		{
			name: "fails when email is taken",
			body: RegisterRequest{
				Username: expectedAccount.Username,
				Email:    expectedAccount.EmailAddress,
				Password: "password",
			},
			success:      true,
			mockErr:      errors.New("duplicate key value violates unique constraint"),
			expectedCode: http.StatusConflict,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockNotificationRepository{}
			if tc.success {
				if tc.mockErr != nil {
					db.On("CreateAccount", mock.Anything).Return(database.Account{}, tc.mockErr).Once()
				} else {
					db.On("CreateAccount", mock.Anything).Return(expectedAccount, nil).Once()
				}
			}

			ta := newTestApp(t, db)
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/auth/register", jsonBody(t, tc.body))
			ta.app.createAccount(rr, req)

			assert.Equal(t, tc.expectedCode, rr.Code)
			if tc.expectedCode == http.StatusCreated {
				var u User
				assert.NoError(t, json.NewDecoder(rr.Body).Decode(&u))
				assert.Equal(t, expectedAccount.Id, u.Id)
				assert.Equal(t, expectedAccount.Username, u.Username)
			}
			db.AssertExpectations(t)
		})
	}
}

func TestLoginHandler(t *testing.T) {
	pwdHash, err := hashPassword("password")
	assert.NoError(t, err)

	account := database.Account{
		Id:           7,
		Username:     "mamadou",
		EmailAddress: "mamadou@example.com",
		PasswordHash: pwdHash,
	}

	t.Run("successful login returns bearer token", func(t *testing.T) {
		db := &database.MockNotificationRepository{}
		db.On("GetAccountByEmail", account.EmailAddress).Return(account, nil).Once()

		ta := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			jsonBody(t, LoginRequest{Email: account.EmailAddress, Password: "password"}))
		ta.app.login(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var resp LoginResponse
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, account.Id, resp.User.Id)
		assert.NotEmpty(t, resp.Token)

		userId, err := ta.app.tokens.Verify(resp.Token)
		assert.NoError(t, err)
		assert.Equal(t, account.Id, userId, "expected the token to resolve to the account")
		db.AssertExpectations(t)
	})

	t.Run("wrong password", func(t *testing.T) {
		db := &database.MockNotificationRepository{}
		db.On("GetAccountByEmail", account.EmailAddress).Return(account, nil).Once()

		ta := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			jsonBody(t, LoginRequest{Email: account.EmailAddress, Password: "wrong"}))
		ta.app.login(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		db.AssertExpectations(t)
	})

	t.Run("unknown email", func(t *testing.T) {
		db := &database.MockNotificationRepository{}
		db.On("GetAccountByEmail", "nobody@example.com").Return(database.Account{}, sql.ErrNoRows).Once()

		ta := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			jsonBody(t, LoginRequest{Email: "nobody@example.com", Password: "password"}))
		ta.app.login(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
		db.AssertExpectations(t)
	})
}

func TestCreateNotificationHandler(t *testing.T) {
	t.Run("accepts a user-targeted event", func(t *testing.T) {
		db := &database.MockNotificationRepository{}
		db.On("AppendNotification", mock.Anything).Return(database.Notification{Id: 1, UserId: 9}, nil).Once()

		ta := newTestApp(t, db)
		// user 9 has no live connection, so delivery falls back to push,
		// which runs off the request path
		sent := make(chan int64, 1)
		ta.sink.On("Send", int64(9), mock.Anything).Return(true).Once().Run(func(args mock.Arguments) {
			sent <- args.Get(0).(int64)
		})

		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/notifications",
			jsonBody(t, CreateNotificationRequest{
				Type:   types.TypeNewComment,
				Title:  "Nouveau commentaire",
				Body:   "Fatou a commenté votre poste",
				UserId: 9,
			}))
		ta.app.createNotification(rr, req.WithContext(WithUserId(req.Context(), 7)))

		assert.Equal(t, http.StatusAccepted, rr.Code)
		assert.Equal(t, int64(9), testutil.Receive(t, sent, time.Second))
		db.AssertExpectations(t)
		ta.sink.AssertExpectations(t)
	})

	t.Run("rejects malformed payloads", func(t *testing.T) {
		tcases := []struct {
			name string
			body any
		}{
			{"invalid json", "not json"},
			{"unknown type", CreateNotificationRequest{Type: "bogus", Title: "t", UserId: 9}},
			{"missing title", CreateNotificationRequest{Type: types.TypeNewPost, UserId: 9}},
			{"no target", CreateNotificationRequest{Type: types.TypeNewPost, Title: "t"}},
			{"both targets", CreateNotificationRequest{Type: types.TypeNewPost, Title: "t", UserId: 9, RoomKey: "quartier:Kaloum"}},
		}

		for _, tc := range tcases {
			t.Run(tc.name, func(t *testing.T) {
				db := &database.MockNotificationRepository{}
				ta := newTestApp(t, db)

				rr := httptest.NewRecorder()
				req := httptest.NewRequest(http.MethodPost, "/api/notifications", jsonBody(t, tc.body))
				ta.app.createNotification(rr, req.WithContext(WithUserId(req.Context(), 7)))

				assert.Equal(t, http.StatusBadRequest, rr.Code)
				db.AssertNotCalled(t, "AppendNotification", mock.Anything)
			})
		}
	})
}

func TestGetNotificationsHandler(t *testing.T) {
	t.Run("returns the backlog", func(t *testing.T) {
		db := &database.MockNotificationRepository{}
		db.On("BacklogFor", int64(7), database.BacklogLimit).Return([]database.Notification{
			{Id: 2, UserId: 7, Type: string(types.TypeNewPost), Title: "t2"},
			{Id: 1, UserId: 7, Type: string(types.TypeSystem), Title: "t1", Read: true},
		}, nil).Once()

		ta := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
		ta.app.getNotifications(rr, req.WithContext(WithUserId(req.Context(), 7)))

		assert.Equal(t, http.StatusOK, rr.Code)

		var backlog []types.Notification
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&backlog))
		assert.Len(t, backlog, 2)
		assert.Equal(t, int64(2), backlog[0].Id, "expected most recent first")
		db.AssertExpectations(t)
	})

	t.Run("empty backlog serializes as an array", func(t *testing.T) {
		db := &database.MockNotificationRepository{}
		db.On("BacklogFor", int64(7), database.BacklogLimit).Return(nil, nil).Once()

		ta := newTestApp(t, db)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
		ta.app.getNotifications(rr, req.WithContext(WithUserId(req.Context(), 7)))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))
	})

	t.Run("missing identity", func(t *testing.T) {
		ta := newTestApp(t, &database.MockNotificationRepository{})
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
		ta.app.getNotifications(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestServeWs(t *testing.T) {
	ta := newTestApp(t, &database.MockNotificationRepository{})

	srv := httptest.NewServer(http.HandlerFunc(ta.app.serveWs))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool {
		return ta.reg.NumConnections() == 1
	}, time.Second, 10*time.Millisecond, "expected the connection to be registered")
}

func TestServeWs_disallowedOrigin(t *testing.T) {
	ta := newTestApp(t, &database.MockNotificationRepository{})

	srv := httptest.NewServer(http.HandlerFunc(ta.app.serveWs))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"Origin": []string{"http://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	assert.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}
}
