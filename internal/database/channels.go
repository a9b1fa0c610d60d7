package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kc-go/internal/catalog"
	"kc-go/internal/model"
)

const channelColumns = `id, name, root_id, total_resource_count, published_size, "order", partial`

// ChannelStore implements catalog.ChannelStore.
type ChannelStore struct {
	db    *sql.DB
	q     *queries
	trees *TreeStore
}

func (s *ChannelStore) CreateChannel(ctx context.Context, ch *model.ChannelMetadata) error {
	return inTx(ctx, s.db, s.q, func(qtx *queries) error {
		_, err := qtx.db.ExecContext(ctx,
			"INSERT INTO content_channelmetadata ("+channelColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
			ch.ID, ch.Name, ch.RootID, ch.TotalResourceCount, ch.PublishedSize, ch.Order, boolInt(ch.Partial))
		if err != nil {
			return fmt.Errorf("creating channel %s: %w", ch.ID, err)
		}
		for _, lang := range ch.IncludedLanguages {
			if _, err := qtx.db.ExecContext(ctx,
				"INSERT OR IGNORE INTO content_channelmetadata_included_languages (channelmetadata_id, language_id) VALUES (?, ?)",
				ch.ID, lang); err != nil {
				return fmt.Errorf("adding language %s to channel %s: %w", lang, ch.ID, err)
			}
		}
		return nil
	})
}

func (s *ChannelStore) GetChannel(ctx context.Context, id string) (*model.ChannelMetadata, error) {
	ch, err := scanChannel(s.q.db.QueryRowContext(ctx,
		"SELECT "+channelColumns+" FROM content_channelmetadata WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel %s: %w", id, err)
	}
	if ch.IncludedLanguages, err = s.q.channelLanguages(ctx, id); err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListChannels returns every channel by display order.
func (s *ChannelStore) ListChannels(ctx context.Context) ([]model.ChannelMetadata, error) {
	rows, err := s.q.db.QueryContext(ctx,
		"SELECT "+channelColumns+` FROM content_channelmetadata ORDER BY "order", name, id`)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}

	var channels []model.ChannelMetadata
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		channels = append(channels, ch)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range channels {
		if channels[i].IncludedLanguages, err = s.q.channelLanguages(ctx, channels[i].ID); err != nil {
			return nil, err
		}
	}
	return channels, nil
}

// UpdateChannelStats counts the distinct available resources under the
// channel root and sums the sizes of their distinct available local files.
func (s *ChannelStore) UpdateChannelStats(ctx context.Context, id string) (*model.ChannelMetadata, error) {
	ch, err := s.GetChannel(ctx, id)
	if err != nil {
		return nil, err
	}
	if ch == nil {
		return nil, fmt.Errorf("%w: %s", catalog.ErrChannelNotFound, id)
	}
	root, err := s.q.getNode(ctx, ch.RootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("%w: root %s of channel %s", catalog.ErrNodeNotFound, ch.RootID, id)
	}

	err = s.q.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT content_id) FROM content_contentnode
		WHERE tree_id = ? AND lft >= ? AND lft <= ? AND kind != ? AND available = 1`,
		root.TreeID, root.Lft, root.Rght, string(model.KindTopic)).Scan(&ch.TotalResourceCount)
	if err != nil {
		return nil, fmt.Errorf("counting resources of channel %s: %w", id, err)
	}

	err = s.q.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(lf.file_size), 0) FROM content_localfile lf
		WHERE lf.available = 1 AND lf.id IN (
			SELECT f.local_file_id FROM content_file f
			JOIN content_contentnode n ON n.id = f.contentnode_id
			WHERE n.tree_id = ? AND n.lft >= ? AND n.lft <= ? AND n.available = 1
		)`,
		root.TreeID, root.Lft, root.Rght).Scan(&ch.PublishedSize)
	if err != nil {
		return nil, fmt.Errorf("summing file sizes of channel %s: %w", id, err)
	}

	if _, err := s.q.db.ExecContext(ctx,
		"UPDATE content_channelmetadata SET total_resource_count = ?, published_size = ? WHERE id = ?",
		ch.TotalResourceCount, ch.PublishedSize, id); err != nil {
		return nil, fmt.Errorf("updating channel stats: %w", err)
	}
	return ch, nil
}

// DeleteChannel deletes the channel row and its root's subtree in one
// transaction. A channel whose root is already gone is still deleted.
func (s *ChannelStore) DeleteChannel(ctx context.Context, id string) (int64, error) {
	ch, err := s.GetChannel(ctx, id)
	if err != nil {
		return 0, err
	}
	if ch == nil {
		return 0, fmt.Errorf("%w: %s", catalog.ErrChannelNotFound, id)
	}
	root, err := s.q.getNode(ctx, ch.RootID)
	if err != nil {
		return 0, err
	}

	if root != nil {
		unlock := s.trees.locks.lock(root.TreeID)
		defer unlock()
	}

	var removed int64
	err = inTx(ctx, s.db, s.q, func(qtx *queries) error {
		if root != nil {
			if removed, err = qtx.deleteSubtree(ctx, root); err != nil {
				return err
			}
		}
		if _, err := qtx.db.ExecContext(ctx, "DELETE FROM content_channelmetadata WHERE id = ?", id); err != nil {
			return fmt.Errorf("deleting channel %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (q *queries) channelLanguages(ctx context.Context, id string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		"SELECT language_id FROM content_channelmetadata_included_languages WHERE channelmetadata_id = ? ORDER BY language_id", id)
	if err != nil {
		return nil, fmt.Errorf("listing languages of channel %s: %w", id, err)
	}
	defer rows.Close()

	var langs []string
	for rows.Next() {
		var lang string
		if err := rows.Scan(&lang); err != nil {
			return nil, err
		}
		langs = append(langs, lang)
	}
	return langs, rows.Err()
}

func scanChannel(row scanner) (model.ChannelMetadata, error) {
	var ch model.ChannelMetadata
	var partial int64
	err := row.Scan(&ch.ID, &ch.Name, &ch.RootID, &ch.TotalResourceCount, &ch.PublishedSize, &ch.Order, &partial)
	ch.Partial = partial != 0
	return ch, err
}

var _ catalog.ChannelStore = (*ChannelStore)(nil)
