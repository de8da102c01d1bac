// Package idx 生成雪花 id 与对外展示的 friendly id。
package idx

import (
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/yitter/idgenerator-go/idgen"
)

const defaultBaseTime = 1755937966000

var once sync.Once

// Setup 初始化 id 生成器，需在进程启动时调用一次；未调用时 NextID 使用默认参数
func Setup(workerID uint16, baseTime int64) {
	once.Do(func() {
		var options = idgen.NewIdGeneratorOptions(workerID)
		if baseTime > 0 {
			options.BaseTime = baseTime
		} else {
			options.BaseTime = defaultBaseTime
		}
		options.WorkerIdBitLength = 6
		// 每毫秒生成数量上限，测试与突发触发场景下需要更大的序列位
		options.SeqBitLength = 10
		idgen.SetIdGenerator(options)
	})
}

// NextID 返回下一个雪花 id
func NextID() uint64 {
	Setup(1, defaultBaseTime)
	return uint64(idgen.NextId())
}

// NewUUID 返回随机 uuid 字符串，用于锁 token、worker 实例等
func NewUUID() string {
	return uuid.NewString()
}

// Friendly 生成 prefix_<base36> 形式的 friendly id
func Friendly(prefix string, id uint64) string {
	return prefix + "_" + strconv.FormatUint(id, 36)
}

// ParseFriendly 解析 friendly id，也接受纯数字 id
func ParseFriendly(prefix, s string) (uint64, bool) {
	if rest, ok := strings.CutPrefix(s, prefix+"_"); ok {
		id, err := strconv.ParseUint(rest, 36, 64)
		return id, err == nil
	}
	id, err := strconv.ParseUint(s, 10, 64)
	return id, err == nil
}
