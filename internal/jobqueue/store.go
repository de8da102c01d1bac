package jobqueue

import (
	"context"
	"encoding/json"
	"time"
)

// Job 一个后台作业。ID 同时作为去重键
type Job struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
	Attempt int             `json:"attempt"`
	RunAt   time.Time       `json:"runAt"`
}

// Store 作业存储，每个槽位是一个按 RunAt 排序的集合，外加一个按可见性截止时间排序的处理中集合
type Store interface {
	// Push 去重写入；去重键仍在有效期内时返回 false
	Push(ctx context.Context, slotKey string, job Job, dedupTTL time.Duration) (bool, error)
	// Claim 先把超过截止时间仍未确认的作业放回槽位，再取出一个 RunAt 不晚于 now 的作业，
	// 移入处理中集合直到 visibleAt。没有时返回 nil
	Claim(ctx context.Context, slotKey string, now, visibleAt time.Time) (*Job, error)
	// Ack 确认处理结束，删除作业
	Ack(ctx context.Context, slotKey, jobID string) error
	// Retry 把处理中的作业按新的 RunAt 放回槽位，不经过去重
	Retry(ctx context.Context, slotKey string, job Job) error
}
