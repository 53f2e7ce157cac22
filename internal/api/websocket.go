// internal/api/websocket.go
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Corphon/PrimitiveFlowMCP/internal/models"
	"github.com/Corphon/PrimitiveFlowMCP/internal/utils"
	"github.com/gorilla/websocket"
)

// WebSocket 升级器配置
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// 生产环境应该收紧来源检查
		return true
	},
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 50 * time.Second
)

// wsClient 一个订阅了某草稿访谈的客户端连接
type wsClient struct {
	conn    *websocket.Conn
	draftID string
	userID  string
	send    chan []byte
	closed  int32
}

func (c *wsClient) close() {
	if atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		c.conn.Close()
	}
}

func (c *wsClient) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// enqueue 非阻塞入队，队列满时丢弃消息
func (c *wsClient) enqueue(data []byte) {
	if c.isClosed() {
		return
	}
	select {
	case c.send <- data:
	default:
		utils.GetLogger().Warnf("客户端消息队列已满，消息被丢弃 draft=%s user=%s", c.draftID, c.userID)
	}
}

// InterviewSocketManager 按草稿ID管理访谈WebSocket连接
// 同时充当会话消息监听器和批准刷新通知器
type InterviewSocketManager struct {
	mu      sync.RWMutex
	clients map[string]map[*wsClient]bool // draftID -> clients
	logger  *utils.Logger
}

// NewInterviewSocketManager 创建连接管理器
func NewInterviewSocketManager() *InterviewSocketManager {
	return &InterviewSocketManager{
		clients: make(map[string]map[*wsClient]bool),
		logger:  utils.GetLogger(),
	}
}

func (m *InterviewSocketManager) register(client *wsClient) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.clients[client.draftID] == nil {
		m.clients[client.draftID] = make(map[*wsClient]bool)
	}
	m.clients[client.draftID][client] = true
}

func (m *InterviewSocketManager) unregister(client *wsClient) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if set, exists := m.clients[client.draftID]; exists {
		delete(set, client)
		if len(set) == 0 {
			delete(m.clients, client.draftID)
		}
	}
	client.close()
}

// broadcast 向订阅某草稿的所有客户端推送消息
func (m *InterviewSocketManager) broadcast(draftID string, payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Errorf("序列化WebSocket消息失败: %v", err)
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for client := range m.clients[draftID] {
		client.enqueue(data)
	}
}

// broadcastAll 向所有客户端推送消息
func (m *InterviewSocketManager) broadcastAll(payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		m.logger.Errorf("序列化WebSocket消息失败: %v", err)
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, set := range m.clients {
		for client := range set {
			client.enqueue(data)
		}
	}
}

// SessionMessage 会话有新消息时推送给订阅客户端
func (m *InterviewSocketManager) SessionMessage(draftID string, msg models.Message) {
	m.broadcast(draftID, map[string]interface{}{
		"type":     "message",
		"draft_id": draftID,
		"message":  msg,
	})
}

// DraftApproved 草稿批准后通知客户端刷新列表
func (m *InterviewSocketManager) DraftApproved(draft *models.Draft) {
	m.broadcast(draft.ID, map[string]interface{}{
		"type":  "draft_approved",
		"draft": draft,
	})
}

// ApprovedScriptUpdated 再生成脚本批准后通知所有客户端
func (m *InterviewSocketManager) ApprovedScriptUpdated(record *models.ApprovedPrimitive) {
	m.broadcastAll(map[string]interface{}{
		"type":   "approved_script_updated",
		"record": record,
	})
}

// Serve 升级连接并运行读写泵，阻塞到连接关闭
func (m *InterviewSocketManager) Serve(w http.ResponseWriter, r *http.Request, draftID, userID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := &wsClient{
		conn:    conn,
		draftID: draftID,
		userID:  userID,
		send:    make(chan []byte, 64),
	}
	m.register(client)

	go m.writePump(client)
	m.readPump(client)
	return nil
}

func (m *InterviewSocketManager) readPump(client *wsClient) {
	defer m.unregister(client)

	client.conn.SetReadLimit(4096)
	client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	// 访谈操作走HTTP端点，连接只用于推送；读循环只消费控制帧
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (m *InterviewSocketManager) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		client.close()
	}()

	for {
		select {
		case data, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
