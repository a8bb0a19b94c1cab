package models

import "sort"

// User is an identity record. Two users are the same entity iff Username
// matches exactly; the endpoint is zero-valued for lookup-only users.
type User struct {
	Username string `json:"username"`
	Password string `json:"-"`
	IP       string `json:"ip,omitempty"`
	Port     int    `json:"port,omitempty"`
}

// NewConnectedUser builds a user populated with a live network endpoint.
func NewConnectedUser(username, password, ip string, port int) User {
	return User{Username: username, Password: password, IP: ip, Port: port}
}

// NewUserInfo builds a user without endpoint information.
func NewUserInfo(username, password string) User {
	return User{Username: username, Password: password}
}

// Equal reports whether both values refer to the same identity.
func (u User) Equal(other User) bool {
	return u.Username == other.Username
}

// Message is an immutable record of one chat event. Timestamp is unix
// milliseconds; ID is assigned by the store when the message is persisted.
type Message struct {
	ID        int64  `json:"id"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
	Sender    string `json:"sender"`
	IsFile    bool   `json:"is_file"`
}

// Conversation aggregates participants and time-ordered messages under a
// unique id. The message sequence is kept sorted ascending by timestamp;
// messages with equal timestamps retain their insertion order.
type Conversation struct {
	id       string
	name     string
	users    []string
	messages []Message
}

// NewConversation creates a conversation with an id and an arbitrary
// amount of initial participants.
func NewConversation(id string, users ...string) *Conversation {
	c := &Conversation{id: id}
	c.users = append(c.users, users...)
	return c
}

func (c *Conversation) ID() string { return c.id }

// AssignID writes back a store-allocated id. It only applies while the
// conversation has no id yet; an existing id is never overwritten.
func (c *Conversation) AssignID(id string) {
	if c.id == "" {
		c.id = id
	}
}

func (c *Conversation) Name() string { return c.name }

func (c *Conversation) SetName(name string) { c.name = name }

// AddUser appends a participant. Callers must not add the same username
// twice; no duplicate check is performed here.
func (c *Conversation) AddUser(username string) {
	c.users = append(c.users, username)
}

// AddMessages appends one or more messages and re-sorts the sequence by
// timestamp. The sort is stable, so equal timestamps keep their relative
// insertion order. Re-sorting the whole sequence is O(n log n) per call,
// which is fine at the record counts this system expects.
func (c *Conversation) AddMessages(msgs ...Message) {
	c.messages = append(c.messages, msgs...)
	sort.SliceStable(c.messages, func(i, j int) bool {
		return c.messages[i].Timestamp < c.messages[j].Timestamp
	})
}

// Contains reports whether the given username is a participant.
func (c *Conversation) Contains(username string) bool {
	for _, u := range c.users {
		if u == username {
			return true
		}
	}
	return false
}

// Users returns a copy of the participant list.
func (c *Conversation) Users() []string {
	out := make([]string, len(c.users))
	copy(out, c.users)
	return out
}

// Messages returns a copy of the message sequence, sorted ascending by
// timestamp.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// OtherUser returns the participant that is not the given one. It is only
// meaningful for two-party conversations: the second return is false when
// the conversation does not have exactly two participants or when the
// given username is not one of them.
func (c *Conversation) OtherUser(username string) (string, bool) {
	if len(c.users) != 2 {
		return "", false
	}
	switch username {
	case c.users[0]:
		return c.users[1], true
	case c.users[1]:
		return c.users[0], true
	}
	return "", false
}

// Equal reports whether both conversations have the same id.
func (c *Conversation) Equal(other *Conversation) bool {
	return other != nil && c.id == other.id
}
