package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// Manager 管理世界的生命周期：UDP 套接字、监听协程、Tick 协程与 HTTP 接口
type Manager struct {
	cfg      Config
	conn     net.PacketConn
	room     *Room
	listener *Listener
	http     *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager 绑定 UDP 套接字并创建世界；绑定失败是唯一的致命错误来源
func NewManager(cfg Config) (*Manager, error) {
	conn, err := net.ListenPacket("udp", cfg.UDPAddr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", cfg.UDPAddr, err)
	}
	room := NewRoom(cfg, conn)
	m := &Manager{
		cfg:      cfg,
		conn:     conn,
		room:     room,
		listener: NewListener(conn, room.Inputs(), room.Metrics(), cfg.ReadTimeout),
	}
	if cfg.HTTPAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/spectate", HandleSpectate(room))
		// 管理与监控接口
		mux.HandleFunc("/admin/config", HandleAdminConfig(room))
		mux.HandleFunc("/metrics", HandleMetrics(room))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("ok"))
		})
		m.http = &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}
	return m, nil
}

// Room 返回被管理的世界
func (m *Manager) Room() *Room { return m.room }

// Addr UDP 实际监听地址
func (m *Manager) Addr() net.Addr { return m.conn.LocalAddr() }

// Start 启动监听、Tick 与 HTTP 协程
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.listener.Run(ctx)
	}()
	go func() {
		defer m.wg.Done()
		m.room.Run(ctx)
	}()
	Log.Infof("listening for game traffic on udp %s", m.Addr())

	if m.http != nil {
		go func() {
			Log.Infof("http listening on %s", m.cfg.HTTPAddr)
			if err := m.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				Log.Errorf("http: %v", err)
			}
		}()
	}
}

// Close 停止所有协程并关闭套接字
func (m *Manager) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.http.Shutdown(ctx)
	}
	m.wg.Wait()
	return m.conn.Close()
}
