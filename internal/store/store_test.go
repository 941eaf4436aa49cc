package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/botcast/gocast/internal/domain"
)

// 同一套用例跑两个驱动，保证行为完全一致
var engines = []string{"sqlite", "zombiezen"}

func openTestBackend(t *testing.T, engine string) Backend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sqlite")
	b, err := Open(engine, path)
	require.NoError(t, err)
	require.NoError(t, b.EnsureSchema(context.Background()))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestOpenUnknownEngine(t *testing.T) {
	_, err := Open("postgres", filepath.Join(t.TempDir(), "x.db"))
	require.Error(t, err)
}

func TestUpsertBotIdempotent(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			b := openTestBackend(t, engine)
			ctx := context.Background()

			bot := domain.BotAccount{
				Name:      "Bot1",
				Platform:  "tiktok",
				Username:  "bot1_tiktok",
				Password:  "pw",
				StreamKey: "rtmp://live.tiktok.com/live/BOT_1_KEY",
				Persona:   "Logical Atheist",
				Gender:    domain.GenderMale,
			}
			require.NoError(t, b.UpsertBot(ctx, bot))

			// 同名同平台再次写入应该更新而不是新增
			bot.Persona = "Skeptical Philosopher"
			require.NoError(t, b.UpsertBot(ctx, bot))

			bots, err := b.ListBots(ctx)
			require.NoError(t, err)
			require.Len(t, bots, 1)
			require.Equal(t, "Skeptical Philosopher", bots[0].Persona)

			// 同名不同平台是另一条记录
			bot.Platform = "youtube"
			require.NoError(t, b.UpsertBot(ctx, bot))
			bots, err = b.ListBots(ctx)
			require.NoError(t, err)
			require.Len(t, bots, 2)
		})
	}
}

func TestListBotsAppliesDefaults(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			b := openTestBackend(t, engine)
			ctx := context.Background()

			require.NoError(t, b.UpsertBot(ctx, domain.BotAccount{
				Name:     "Bot1",
				Platform: "tiktok",
			}))

			bots, err := b.ListBots(ctx)
			require.NoError(t, err)
			require.Len(t, bots, 1)
			require.Equal(t, "Default persona", bots[0].Persona)
			require.Equal(t, domain.GenderMale, bots[0].Gender)
		})
	}
}

func TestInteractionHistory(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			b := openTestBackend(t, engine)
			ctx := context.Background()

			for i := 0; i < 8; i++ {
				require.NoError(t, b.AppendInteraction(ctx, domain.InteractionLog{
					BotName:  "Bot1",
					Platform: "tiktok",
					Gender:   domain.GenderMale,
					Input:    fmt.Sprintf("question %d", i),
					Response: fmt.Sprintf("answer %d", i),
				}))
			}
			require.NoError(t, b.AppendInteraction(ctx, domain.InteractionLog{
				BotName: "Bot2", Input: "other bot", Response: "other",
			}))

			logs, err := b.RecentInteractions(ctx, "Bot1", 5)
			require.NoError(t, err)
			require.Len(t, logs, 5)
			// 最新的在前
			require.Equal(t, "question 7", logs[0].Input)
			require.Equal(t, "question 3", logs[4].Input)
			for _, l := range logs {
				require.Equal(t, "Bot1", l.BotName)
			}

			// limit<=0 回落到默认值
			logs, err = b.RecentInteractions(ctx, "Bot1", 0)
			require.NoError(t, err)
			require.Len(t, logs, 5)
		})
	}
}

func TestDirectorCommands(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			b := openTestBackend(t, engine)
			ctx := context.Background()

			require.NoError(t, b.AppendDirectorCommand(ctx, "talk about space"))
			require.NoError(t, b.AppendDirectorCommand(ctx, "be more cheerful"))

			cmds, err := b.RecentDirectorCommands(ctx, 1)
			require.NoError(t, err)
			require.Len(t, cmds, 1)
			require.Equal(t, "be more cheerful", cmds[0].Command)
			// applied 只追加不消费
			require.False(t, cmds[0].Applied)
		})
	}
}

func TestCloseIdempotent(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "test.sqlite")
			b, err := Open(engine, path)
			require.NoError(t, err)
			require.NoError(t, b.EnsureSchema(context.Background()))
			require.NoError(t, b.Close())
			require.NoError(t, b.Close())
		})
	}
}
