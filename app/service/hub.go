package service

import (
	"sync"

	"ytbatch/app/logger"
	"ytbatch/app/model"
)

// subscriberBuffer 每个订阅者的事件缓冲大小
const subscriberBuffer = 64

// Subscriber 事件订阅者，C 在取消订阅后关闭
type Subscriber struct {
	C chan model.BroadcastEvent
}

// EventHub 进度事件广播器，按控制器处理顺序向全部订阅者扇出；
// 消费过慢的订阅者丢弃事件，绝不阻塞发布方
type EventHub struct {
	log  *logger.Logger
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

// NewEventHub 创建事件广播器
func NewEventHub(log *logger.Logger) *EventHub {
	return &EventHub{
		log:  log,
		subs: make(map[*Subscriber]struct{}),
	}
}

// Subscribe 注册新的订阅者，仅收到订阅之后发布的事件
func (h *EventHub) Subscribe() *Subscriber {
	sub := &Subscriber{C: make(chan model.BroadcastEvent, subscriberBuffer)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	return sub
}

// Unsubscribe 注销订阅者并关闭其通道
func (h *EventHub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()

	if ok {
		close(sub.C)
	}
}

// Publish 向所有订阅者广播事件，缓冲已满的订阅者丢弃本条
func (h *EventHub) Publish(kind string, payload any) {
	event := model.BroadcastEvent{Kind: kind, Payload: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		select {
		case sub.C <- event:
		default:
			// 慢消费者，丢弃事件保护发布方
			h.log.Debugf("订阅者缓冲已满，丢弃事件: %s", kind)
		}
	}
}

// SubscriberCount 当前订阅者数量
func (h *EventHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
