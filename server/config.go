package server

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"spacearena/game"
)

// Config 服务端配置；启动时由命令行参数填充，部分字段可经 /admin/config 热更新
type Config struct {
	UDPAddr  string // 游戏报文监听地址
	HTTPAddr string // 管理、指标与观战接口
	LogFile  string
	LogLevel string

	TicksPerSecond int
	MailboxSize    int           // 监听协程 → Tick 协程的有界邮箱容量
	ReadTimeout    time.Duration // 监听协程阻塞读的超时，便于周期性让出

	Tunables
	Planets []game.Planet
}

// Tunables 可在运行期修改的规则参数，Tick 开始时整体复制
type Tunables struct {
	ClientTimeout   time.Duration
	ActionsPerSec   float64
	ActionBurst     int
	MaxBroadcastLen int
}

// MaxBroadcastLen 的上限：保证单条广播总能放进一个空感知报文
const maxBroadcastLenLimit = 400

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		UDPAddr:        ":34481",
		HTTPAddr:       ":8080",
		LogFile:        "server.log",
		LogLevel:       "info",
		TicksPerSecond: 20,
		MailboxSize:    1024,
		ReadTimeout:    20 * time.Millisecond,
		Tunables: Tunables{
			ClientTimeout:   5 * time.Second,
			ActionsPerSec:   60,
			ActionBurst:     30,
			MaxBroadcastLen: 256,
		},
		Planets: []game.Planet{{
			Position: mgl64.Vec2{0, 0},
			Radius:   50,
			Mass:     5000,
			Color:    game.Color{R: 0x3a, G: 0x8f, B: 0xd8},
		}},
	}
}

// sanitize 修正越界参数
func (t Tunables) sanitize() Tunables {
	if t.ClientTimeout <= 0 {
		t.ClientTimeout = 5 * time.Second
	}
	if t.ActionsPerSec <= 0 {
		t.ActionsPerSec = 60
	}
	if t.ActionBurst <= 0 {
		t.ActionBurst = 1
	}
	if t.MaxBroadcastLen <= 0 || t.MaxBroadcastLen > maxBroadcastLenLimit {
		t.MaxBroadcastLen = maxBroadcastLenLimit
	}
	return t
}
