package querycache

// ToggleFields names the entity fields one relationship toggle touches and
// the list kinds whose membership it changes. Lists hold the toggled entity
// itself (a "bookmarks" query lists posts), so map each list kind to its
// entity kind with Options.ItemKinds or a normalize.WithKind normalizer;
// otherwise the list caches its own copy and only catches up on refetch.
type ToggleFields struct {
	Flag    string
	Counter string
	Lists   []string
}

var (
	LikeFields     = ToggleFields{Flag: "liked", Counter: "likes"}
	BookmarkFields = ToggleFields{Flag: "bookmarked", Counter: "bookmarks", Lists: []string{"bookmarks"}}
	FollowFields   = ToggleFields{Flag: "following", Counter: "followers", Lists: []string{"followers", "following"}}
	RepostFields   = ToggleFields{Flag: "reposted", Counter: "reposts", Lists: []string{"reposts"}}
)

// ToggleIntent builds a flag+counter toggle. The op sent to the data source
// is op when on and "un"+op otherwise (like/unlike).
func ToggleIntent(kind, id, op string, f ToggleFields, on bool) MutationIntent {
	if !on {
		op = "un" + op
	}
	return MutationIntent{
		Kind:            kind,
		ID:              id,
		Op:              op,
		Patch:           Patch{Toggle(f.Flag, f.Counter, on)},
		Payload:         map[string]any{f.Flag: on},
		InvalidateKinds: append([]string(nil), f.Lists...),
	}
}

func Like(kind, id string, on bool) MutationIntent {
	return ToggleIntent(kind, id, "like", LikeFields, on)
}

func Bookmark(kind, id string, on bool) MutationIntent {
	return ToggleIntent(kind, id, "bookmark", BookmarkFields, on)
}

func Follow(kind, id string, on bool) MutationIntent {
	return ToggleIntent(kind, id, "follow", FollowFields, on)
}

func Repost(kind, id string, on bool) MutationIntent {
	return ToggleIntent(kind, id, "repost", RepostFields, on)
}

// Delete hides the entity everywhere at once; on success it is dropped and
// every query of its kind is invalidated.
func Delete(kind, id string) MutationIntent {
	return MutationIntent{Kind: kind, ID: id, Op: "delete", Patch: Patch{Remove()}}
}

// Approve and Reject move a moderated entity's status. lists are the review
// queues to invalidate.
func Approve(kind, id string, lists ...QueryKey) MutationIntent {
	return review(kind, id, "approve", "approved", lists)
}

func Reject(kind, id string, lists ...QueryKey) MutationIntent {
	return review(kind, id, "reject", "rejected", lists)
}

func review(kind, id, op, status string, lists []QueryKey) MutationIntent {
	return MutationIntent{
		Kind:       kind,
		ID:         id,
		Op:         op,
		Patch:      Patch{Set("status", status)},
		Payload:    map[string]any{"status": status},
		Invalidate: lists,
	}
}

// SetField is a plain field edit (profile name, post text).
func SetField(kind, id, field string, v any) MutationIntent {
	return MutationIntent{
		Kind:    kind,
		ID:      id,
		Op:      "update",
		Patch:   Patch{Set(field, v)},
		Payload: map[string]any{field: v},
	}
}

// Comment bumps the parent's comment counter and invalidates comment lists.
func Comment(kind, id string, payload any) MutationIntent {
	return MutationIntent{
		Kind:            kind,
		ID:              id,
		Op:              "comment",
		Patch:           Patch{Inc("comments", 1)},
		Payload:         payload,
		InvalidateKinds: []string{"comments"},
	}
}

// Create posts a new entity. Nothing is applied optimistically; every query
// of kind is invalidated once the server answers.
func Create(kind string, payload any, lists ...QueryKey) MutationIntent {
	return MutationIntent{
		Kind:            kind,
		Op:              "create",
		Payload:         payload,
		Invalidate:      lists,
		InvalidateKinds: []string{kind},
	}
}
