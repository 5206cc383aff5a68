package event

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linchenxuan/oncelink/log"
)

var (
	ErrTopicExists    = errors.New("topic already created")
	ErrTopicNotFound  = errors.New("topic not created")
	ErrPublishTimeout = errors.New("publish timeout")
)

// Publisher fans events out to the subscribers of a topic.
type Publisher struct {
	lock   sync.RWMutex
	topics map[string]*Topic
}

// NewPublisher returns an empty publisher.
func NewPublisher() *Publisher {
	return &Publisher{topics: make(map[string]*Topic)}
}

// NewLinkPublisher returns a publisher with every link topic created.
func NewLinkPublisher(timeout time.Duration) *Publisher {
	p := NewPublisher()
	for _, name := range LinkTopics {
		_ = p.NewTopic(name, timeout)
	}
	return p
}

// NewTopic must be called before a topic can be subscribed to.
func (p *Publisher) NewTopic(topicName string, timeout time.Duration) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if _, ok := p.topics[topicName]; ok {
		return fmt.Errorf("%w: %s", ErrTopicExists, topicName)
	}
	p.topics[topicName] = &Topic{
		timeout:     timeout,
		subscribers: []Subscriber{},
	}
	return nil
}

// RegisterSubscriber adds fn to a topic.
func (p *Publisher) RegisterSubscriber(topicName string, fn Subscriber) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	topic, ok := p.topics[topicName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, topicName)
	}
	topic.subscribers = append(topic.subscribers, fn)
	log.Debug().Str("topic", topicName).Int("num", len(topic.subscribers)).Msg("add subscriber")
	return nil
}

// Publish runs every subscriber of the topic concurrently and waits for them
// up to the topic timeout. Subscribers still running after the timeout are
// left to finish on their own and ErrPublishTimeout is returned.
func (p *Publisher) Publish(topicName string, i any) error {
	p.lock.RLock()
	topic, ok := p.topics[topicName]
	var subs []Subscriber
	var timeout time.Duration
	if ok {
		subs = append(subs, topic.subscribers...)
		timeout = topic.timeout
	}
	p.lock.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, topicName)
	}
	if len(subs) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		sub := sub
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub(i)
		}()
	}

	if timeout <= 0 {
		wg.Wait()
		return nil
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		log.Warn().Str("topic", topicName).Dur("timeout", timeout).Msg("publish timeout")
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topicName)
	}
}
