package builtin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wilhg/claw/pkg/memory"
	"github.com/wilhg/claw/pkg/skill"
	"github.com/wilhg/claw/pkg/store"
)

// Memories is the part of memory.Manager the memory skill needs.
type Memories interface {
	Search(ctx context.Context, query string, limit int) ([]store.MemoryEntry, error)
	Recent(ctx context.Context, days int) ([]store.MemoryEntry, error)
	Write(ctx context.Context, content string, opts memory.WriteOptions) (store.MemoryEntry, error)
}

// NoMemories is the memory_search answer when nothing matches.
const NoMemories = "No memories found."

// Memory returns the "memory" skill backed by m.
func Memory(m Memories) *skill.FuncSkill {
	return skill.NewFuncSkill("memory", "Long-term memory search and storage").
		Add(skill.Tool{
			Name:        "memory_search",
			Description: "Searches long-term memory by keyword and meaning",
			Parameters: skill.Object(map[string]*skill.Schema{
				"query": skill.String("what to look for"),
				"limit": skill.Number("maximum results"),
			}, "query"),
		}, func(ctx context.Context, args map[string]any) (string, error) {
			entries, err := m.Search(ctx, stringArg(args, "query"), intArg(args, "limit", memory.DefaultSearchLimit))
			if err != nil {
				return "", err
			}
			return listMemories(entries), nil
		}).
		Add(skill.Tool{
			Name:        "memory_recent",
			Description: "Lists memories from the last few days, newest first",
			Parameters: skill.Object(map[string]*skill.Schema{
				"days": skill.Number("how many days back, default 7"),
			}),
		}, func(ctx context.Context, args map[string]any) (string, error) {
			entries, err := m.Recent(ctx, intArg(args, "days", memory.DefaultRecentDays))
			if err != nil {
				return "", err
			}
			return listMemories(entries), nil
		}).
		Add(skill.Tool{
			Name:        "memory_store",
			Description: "Stores a fact in long-term memory",
			Parameters: skill.Object(map[string]*skill.Schema{
				"content": skill.String("the fact to remember"),
				"tags":    skill.StringArray("optional tags"),
				"source":  skill.String("optional file or document the fact came from"),
			}, "content"),
		}, func(ctx context.Context, args map[string]any) (string, error) {
			content := strings.TrimSpace(stringArg(args, "content"))
			if content == "" {
				return "", errors.New("content required")
			}
			e, err := m.Write(ctx, content, memory.WriteOptions{
				Tags:       stringsArg(args, "tags"),
				SourceFile: strings.TrimSpace(stringArg(args, "source")),
			})
			if err != nil {
				return "", err
			}
			return "Stored memory " + e.ID, nil
		})
}

func listMemories(entries []store.MemoryEntry) string {
	if len(entries) == 0 {
		return NoMemories
	}
	var sb strings.Builder
	for i, e := range entries {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "- (%s, %s) %s", e.CreatedAt.UTC().Format("2006-01-02"), e.Mood, e.Content)
	}
	return sb.String()
}
