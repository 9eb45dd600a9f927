package maintenance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"bitbucket.org/meditrust/medsync_backend/config"
	"bitbucket.org/meditrust/medsync_backend/models"
	"github.com/shopspring/decimal"
)

// BackupNode writes a plain-SQL dump of one node's business tables: one
// INSERT per row, tables in foreign-key order so the dump replays cleanly on
// an empty schema.
func BackupNode(ctx context.Context, nodeId string, w io.Writer) error {
	db := config.GetNode(nodeId)
	if db == nil {
		return errors.New("node not connected: " + nodeId)
	}

	header := fmt.Sprintf("-- medsync backup of node %s at %s\n\n",
		nodeId, time.Now().UTC().Format(time.RFC3339))
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}

	for _, table := range models.ReplicatedTables {
		var rows []map[string]interface{}
		if err := db.WithContext(ctx).Table(table).Find(&rows).Error; err != nil {
			return fmt.Errorf("read %s: %w", table, err)
		}
		if _, err := fmt.Fprintf(w, "-- %s (%d rows)\n", table, len(rows)); err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}

		cols := make([]string, 0, len(rows[0]))
		for c := range rows[0] {
			cols = append(cols, c)
		}
		sort.Strings(cols)

		for _, row := range rows {
			vals := make([]string, 0, len(cols))
			for _, c := range cols {
				vals = append(vals, sqlLiteral(row[c]))
			}
			stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);\n",
				table, strings.Join(cols, ", "), strings.Join(vals, ", "))
			if _, err := io.WriteString(w, stmt); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

// sqlLiteral renders one column value as a portable SQL literal.
func sqlLiteral(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if t {
			return "1"
		}
		return "0"
	case string:
		return quoteSQL(t)
	case []byte:
		return quoteSQL(string(t))
	case time.Time:
		return "'" + t.Format("2006-01-02 15:04:05") + "'"
	case *time.Time:
		if t == nil {
			return "NULL"
		}
		return "'" + t.Format("2006-01-02 15:04:05") + "'"
	case decimal.Decimal:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

func quoteSQL(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
