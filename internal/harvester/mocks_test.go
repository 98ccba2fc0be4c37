package harvester

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/blockedby/tg-warehouse/internal/telegram"
	"github.com/blockedby/tg-warehouse/internal/warehouse"
)

// sliceIterator replays a fixed newest-first message list.
type sliceIterator struct {
	msgs  []telegram.Message
	pos   int
	err   error
	errAt int // position at which err fires
}

func (it *sliceIterator) Next(_ context.Context) (*telegram.Message, error) {
	if it.err != nil && it.pos == it.errAt {
		return nil, it.err
	}
	if it.pos >= len(it.msgs) {
		return nil, nil
	}
	m := it.msgs[it.pos]
	it.pos++
	return &m, nil
}

type mockChatClient struct {
	chats      map[string]*telegram.Chat
	history    map[int64][]telegram.Message // newest first
	users      map[int64]*telegram.User
	resolveErr map[string]error
	userErr    map[int64]error
	iterErr    error
	iterErrAt  int

	iterCalls int
	userCalls []int64
}

func newMockChatClient() *mockChatClient {
	return &mockChatClient{
		chats:      make(map[string]*telegram.Chat),
		history:    make(map[int64][]telegram.Message),
		users:      make(map[int64]*telegram.User),
		resolveErr: make(map[string]error),
		userErr:    make(map[int64]error),
	}
}

func (m *mockChatClient) ResolveChat(_ context.Context, handle string) (*telegram.Chat, error) {
	if err := m.resolveErr[handle]; err != nil {
		return nil, err
	}
	chat, ok := m.chats[handle]
	if !ok {
		return nil, fmt.Errorf("no such chat: %s", handle)
	}
	return chat, nil
}

func (m *mockChatClient) IterHistory(chat *telegram.Chat, _ time.Time) MessageIterator {
	m.iterCalls++
	return &sliceIterator{
		msgs:  m.history[chat.ID],
		err:   m.iterErr,
		errAt: m.iterErrAt,
	}
}

func (m *mockChatClient) GetUser(_ context.Context, userID int64) (*telegram.User, error) {
	m.userCalls = append(m.userCalls, userID)
	if err := m.userErr[userID]; err != nil {
		return nil, err
	}
	user, ok := m.users[userID]
	if !ok {
		return nil, fmt.Errorf("no such user: %d", userID)
	}
	return user, nil
}

type mockWarehouse struct {
	existingMsgs  map[string]struct{} // "chatID/msgID"
	existingChats map[string]struct{}
	existingUsers map[string]struct{}
	maxDate       *time.Time

	loads    map[string][][]warehouse.Record
	loadErr  map[string]error
	probeErr error
	snapErr  error
	maxErr   error
}

func newMockWarehouse() *mockWarehouse {
	return &mockWarehouse{
		existingMsgs:  make(map[string]struct{}),
		existingChats: make(map[string]struct{}),
		existingUsers: make(map[string]struct{}),
		loads:         make(map[string][][]warehouse.Record),
		loadErr:       make(map[string]error),
	}
}

func msgKey(chatID string, msgID int64) string {
	return chatID + "/" + strconv.FormatInt(msgID, 10)
}

func (m *mockWarehouse) Load(_ context.Context, table string, records []warehouse.Record) error {
	if err := m.loadErr[table]; err != nil {
		return err
	}
	m.loads[table] = append(m.loads[table], records)
	return nil
}

func (m *mockWarehouse) MessageExists(_ context.Context, msgID int64, chatID string) (bool, error) {
	if m.probeErr != nil {
		return false, m.probeErr
	}
	_, ok := m.existingMsgs[msgKey(chatID, msgID)]
	return ok, nil
}

func (m *mockWarehouse) ExistingChatIDs(context.Context) (map[string]struct{}, error) {
	return m.existingChats, m.snapErr
}

func (m *mockWarehouse) ExistingUserIDs(context.Context) (map[string]struct{}, error) {
	return m.existingUsers, m.snapErr
}

func (m *mockWarehouse) MaxMessageDate(context.Context) (*time.Time, error) {
	return m.maxDate, m.maxErr
}

// loadedRows flattens every batch loaded into a table.
func (m *mockWarehouse) loadedRows(table string) []warehouse.Record {
	var out []warehouse.Record
	for _, batch := range m.loads[table] {
		out = append(out, batch...)
	}
	return out
}

type mockProgress struct {
	configs map[string]warehouse.ChatConfig
	ensured map[string]string // chatID -> username
	marked  map[string][]time.Time

	ensureErr error
	getAllErr error
	markErr   error
}

func newMockProgress() *mockProgress {
	return &mockProgress{
		configs: make(map[string]warehouse.ChatConfig),
		ensured: make(map[string]string),
		marked:  make(map[string][]time.Time),
	}
}

func (m *mockProgress) EnsureExists(_ context.Context, chatID, username string) error {
	if m.ensureErr != nil {
		return m.ensureErr
	}
	m.ensured[chatID] = username
	return nil
}

func (m *mockProgress) GetAll(context.Context) (map[string]warehouse.ChatConfig, error) {
	return m.configs, m.getAllErr
}

func (m *mockProgress) MarkProcessed(_ context.Context, chatID string, dates []time.Time) error {
	if m.markErr != nil {
		return m.markErr
	}
	m.marked[chatID] = append(m.marked[chatID], dates...)
	return nil
}

type mockPublisher struct {
	events []ChatHarvestedEvent
	err    error
}

func (m *mockPublisher) PublishChatHarvested(_ context.Context, event ChatHarvestedEvent) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}
