package server

import (
	"sort"

	"sechat/models"
)

// FriendGraph holds mutual friendship edges and pending requests. Edges are
// symmetric: an accepted request writes both directions, and resume
// migration rewrites both directions together.
type FriendGraph struct {
	identities *IdentityStore
	registry   *ConnectionRegistry
	edges      map[string]map[string]struct{}
	pending    map[string][]models.PendingRequest
}

func NewFriendGraph(identities *IdentityStore, registry *ConnectionRegistry) *FriendGraph {
	return &FriendGraph{
		identities: identities,
		registry:   registry,
		edges:      make(map[string]map[string]struct{}),
		pending:    make(map[string][]models.PendingRequest),
	}
}

// Request ставит заявку в очередь получателя. Цель должна быть онлайн:
// заявки оффлайн-пользователям эталонное поведение не допускает.
func (g *FriendGraph) Request(sender, target string) (models.PendingRequest, error) {
	if !g.registry.IsOnline(target) {
		return models.PendingRequest{}, invalidInput("User ID not found or offline")
	}
	if target == sender {
		return models.PendingRequest{}, invalidInput("Cannot add yourself as friend")
	}
	if g.AreFriends(sender, target) {
		return models.PendingRequest{}, alreadyFriends("Already friends with this user")
	}
	if g.hasPending(target, sender) {
		return models.PendingRequest{}, duplicateRequest("Friend request already sent")
	}

	request := models.PendingRequest{SenderID: sender, Timestamp: nowUnix()}
	g.pending[target] = append(g.pending[target], request)
	return request, nil
}

// Respond снимает заявку из очереди получателя; при согласии создаёт
// симметричное ребро.
func (g *FriendGraph) Respond(recipient, sender string, accepted bool) error {
	queue := g.pending[recipient]
	filtered := queue[:0]
	for _, request := range queue {
		if request.SenderID != sender {
			filtered = append(filtered, request)
		}
	}
	if len(filtered) == len(queue) {
		return notFound("Friend request not found")
	}
	if len(filtered) == 0 {
		delete(g.pending, recipient)
	} else {
		g.pending[recipient] = filtered
	}

	if accepted {
		g.AddEdge(recipient, sender)
	}
	return nil
}

func (g *FriendGraph) AddEdge(a, b string) {
	if g.edges[a] == nil {
		g.edges[a] = make(map[string]struct{})
	}
	if g.edges[b] == nil {
		g.edges[b] = make(map[string]struct{})
	}
	g.edges[a][b] = struct{}{}
	g.edges[b][a] = struct{}{}
}

func (g *FriendGraph) AreFriends(a, b string) bool {
	_, ok := g.edges[a][b]
	return ok
}

// Friends возвращает отсортированный список кодов друзей.
func (g *FriendGraph) Friends(code string) []string {
	set := g.edges[code]
	friends := make([]string, 0, len(set))
	for friend := range set {
		friends = append(friends, friend)
	}
	sort.Strings(friends)
	return friends
}

// FriendsInfo is the read-through join for a friends_list event: public key
// and last-seen from the identity record, online flag from the registry.
func (g *FriendGraph) FriendsInfo(code string) []models.FriendInfo {
	friends := g.Friends(code)
	infos := make([]models.FriendInfo, 0, len(friends))
	for _, friend := range friends {
		info := models.FriendInfo{
			UserID: friend,
			Online: g.registry.IsOnline(friend),
		}
		if identity, ok := g.identities.Get(friend); ok {
			info.PublicKey = identity.PublicKey
			info.LastSeen = identity.LastSeen
		}
		infos = append(infos, info)
	}
	return infos
}

func (g *FriendGraph) hasPending(recipient, sender string) bool {
	for _, request := range g.pending[recipient] {
		if request.SenderID == sender {
			return true
		}
	}
	return false
}

// Pending returns the queue addressed to a recipient.
func (g *FriendGraph) Pending(recipient string) []models.PendingRequest {
	return g.pending[recipient]
}

// DropCode удаляет собственное множество рёбер кода и адресованные ему
// заявки. Используется на пути merge, где у временного кода их нет.
func (g *FriendGraph) DropCode(code string) {
	delete(g.edges, code)
	delete(g.pending, code)
}

// RenameCode переписывает все упоминания старого кода на новый: собственное
// множество, обратные рёбра, очередь заявок и отправителей в чужих очередях.
func (g *FriendGraph) RenameCode(oldCode, newCode string) {
	if set, ok := g.edges[oldCode]; ok {
		delete(g.edges, oldCode)
		if existing, ok := g.edges[newCode]; ok {
			for friend := range set {
				existing[friend] = struct{}{}
			}
		} else if len(set) > 0 {
			g.edges[newCode] = set
		}
	}
	for _, set := range g.edges {
		if _, ok := set[oldCode]; ok {
			delete(set, oldCode)
			set[newCode] = struct{}{}
		}
	}

	if queue, ok := g.pending[oldCode]; ok {
		delete(g.pending, oldCode)
		g.pending[newCode] = append(g.pending[newCode], queue...)
	}
	for _, queue := range g.pending {
		for i := range queue {
			if queue[i].SenderID == oldCode {
				queue[i].SenderID = newCode
			}
		}
	}
}

// References reports whether the code occurs anywhere in the graph.
func (g *FriendGraph) References(code string) bool {
	if _, ok := g.edges[code]; ok {
		return true
	}
	if _, ok := g.pending[code]; ok {
		return true
	}
	for _, set := range g.edges {
		if _, ok := set[code]; ok {
			return true
		}
	}
	for _, queue := range g.pending {
		for _, request := range queue {
			if request.SenderID == code {
				return true
			}
		}
	}
	return false
}

// Adjacency returns the persistable edge lists, sorted for stable snapshots.
func (g *FriendGraph) Adjacency() map[string][]string {
	adjacency := make(map[string][]string)
	for code, set := range g.edges {
		if len(set) == 0 {
			continue
		}
		adjacency[code] = g.Friends(code)
	}
	return adjacency
}

// Restore rebuilds edges from a snapshot adjacency map.
func (g *FriendGraph) Restore(friends map[string][]string) {
	for owner, list := range friends {
		for _, friend := range list {
			g.AddEdge(owner, friend)
		}
	}
}
