package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"expert-eval/internal/db"
)

// Postgres keeps pool items as rows and evaluator records as jsonb
// documents in evaluators.doc.
type Postgres struct {
	DB *sqlx.DB
}

func NewPostgres(dbx *sqlx.DB) *Postgres {
	return &Postgres{DB: dbx}
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

const poolColumns = `question_id, question_text, llm_response, coalesce(times_answered, 0) as times_answered, target_evaluations, rubrics, axis_rubric_map`

func (p *Postgres) ScanEligible(ctx context.Context) ([]db.PoolItem, error) {
	items := make([]db.PoolItem, 0)
	err := p.DB.SelectContext(ctx, &items,
		`select `+poolColumns+` from question_pool where coalesce(times_answered, 0) < target_evaluations order by seq`)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (p *Postgres) IncrementUsage(ctx context.Context, questionID string, n int) error {
	res, err := p.DB.ExecContext(ctx,
		`update question_pool set times_answered = coalesce(times_answered, 0) + $2 where question_id = $1`,
		questionID, n)
	if err != nil {
		return err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("question %s: %w", questionID, ErrNotFound)
	}
	return nil
}

func (p *Postgres) GetQuestions(ctx context.Context, ids []string) (map[string]db.PoolItem, error) {
	out := make(map[string]db.PoolItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q, args, err := sqlx.In(`select `+poolColumns+` from question_pool where question_id in (?)`, ids)
	if err != nil {
		return nil, err
	}
	var items []db.PoolItem
	if err := p.DB.SelectContext(ctx, &items, p.DB.Rebind(q), args...); err != nil {
		return nil, err
	}
	for _, it := range items {
		out[it.QuestionID] = it
	}
	return out, nil
}

// putQuestionSQL takes times_answered from the item on insert and never
// touches it on conflict.
const putQuestionSQL = `insert into question_pool(question_id, question_text, llm_response, times_answered, target_evaluations, rubrics, axis_rubric_map)
values($1,$2,$3,$4,$5,$6,$7)
on conflict (question_id) do update set
  question_text = excluded.question_text,
  llm_response = excluded.llm_response,
  target_evaluations = excluded.target_evaluations,
  rubrics = excluded.rubrics,
  axis_rubric_map = excluded.axis_rubric_map`

func (p *Postgres) PutQuestions(ctx context.Context, items []db.PoolItem) error {
	return db.WithTx(ctx, p.DB, func(tx *sqlx.Tx) error {
		for _, it := range items {
			_, err := tx.ExecContext(ctx, putQuestionSQL,
				it.QuestionID, it.QuestionText, it.LLMResponse, it.TimesAnswered, it.TargetEvaluations, nullJSON(it.Rubrics), nullJSON(it.AxisRubricMap))
			if err != nil {
				return fmt.Errorf("upsert question %s: %w", it.QuestionID, err)
			}
		}
		return nil
	})
}

func (p *Postgres) PutEvaluator(ctx context.Context, rec *db.EvaluatorRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = p.DB.ExecContext(ctx, `insert into evaluators(user_id, doc, created_at, updated_at) values($1,$2::jsonb,$3,$4)
on conflict (user_id) do update set doc = excluded.doc, updated_at = excluded.updated_at`,
		rec.UserID, string(doc), rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (p *Postgres) GetEvaluator(ctx context.Context, userID string) (*db.EvaluatorRecord, error) {
	var doc []byte
	err := p.DB.GetContext(ctx, &doc, `select doc from evaluators where user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("evaluator %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rec db.EvaluatorRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode evaluator %s: %w", userID, err)
	}
	return &rec, nil
}

func (p *Postgres) UpdateEvaluator(ctx context.Context, userID string, u Update) error {
	q, args, err := compileUpdate(userID, u)
	if err != nil {
		return err
	}
	res, err := p.DB.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil || affected > 0 {
		return err
	}
	var cnt int
	if err := p.DB.GetContext(ctx, &cnt, `select count(1) from evaluators where user_id = $1`, userID); err != nil {
		return err
	}
	if cnt == 0 {
		return fmt.Errorf("evaluator %s: %w", userID, ErrNotFound)
	}
	return ErrConditionFailed
}

// compileUpdate turns u into a single UPDATE built from nested jsonb_set
// calls over the doc column. Every parent map of a nested path is
// normalized to an object first so jsonb_set can create the leaf key.
func compileUpdate(userID string, u Update) (string, []any, error) {
	if u.Empty() {
		return "", nil, ErrEmptyUpdate
	}
	args := []any{userID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	expr := "doc"
	parents := map[string]bool{}
	collect := func(p Path) {
		for depth := 1; depth < len(p); depth++ {
			key := pathLiteral(p[:depth])
			if parents[key] {
				continue
			}
			parents[key] = true
			if depth == 1 {
				k := arg(p[0])
				expr = fmt.Sprintf(
					"(%s || jsonb_build_object(%s::text, case when jsonb_typeof(doc -> %s::text) = 'object' then doc -> %s::text else '{}'::jsonb end))",
					expr, k, k, k)
				continue
			}
			k := arg(key)
			expr = fmt.Sprintf(
				"jsonb_set(%s, %s::text[], case when jsonb_typeof(doc #> %s::text[]) = 'object' then doc #> %s::text[] else '{}'::jsonb end, true)",
				expr, k, k, k)
		}
	}
	for _, a := range u.Set {
		collect(a.Path)
	}
	for _, a := range u.SetIfAbsent {
		collect(a.Path)
	}
	for _, a := range u.Add {
		collect(a.Path)
	}

	for _, a := range u.Set {
		v, err := json.Marshal(a.Value)
		if err != nil {
			return "", nil, err
		}
		expr = fmt.Sprintf("jsonb_set(%s, %s::text[], %s::jsonb, true)", expr, arg(pathLiteral(a.Path)), arg(string(v)))
	}
	for _, a := range u.SetIfAbsent {
		v, err := json.Marshal(a.Value)
		if err != nil {
			return "", nil, err
		}
		p := arg(pathLiteral(a.Path))
		expr = fmt.Sprintf("jsonb_set(%s, %s::text[], coalesce(nullif(doc #> %s::text[], 'null'::jsonb), %s::jsonb), true)", expr, p, p, arg(string(v)))
	}
	for _, inc := range u.Add {
		p := arg(pathLiteral(inc.Path))
		expr = fmt.Sprintf("jsonb_set(%s, %s::text[], to_jsonb(coalesce((doc #>> %s::text[])::numeric, 0) + %s::int), true)", expr, p, p, arg(inc.By))
	}

	var where strings.Builder
	where.WriteString("user_id = $1")
	for _, c := range u.Conditions {
		p := arg(pathLiteral(c.Path))
		switch {
		case c.Absent:
			fmt.Fprintf(&where, " and nullif(doc #> %s::text[], 'null'::jsonb) is null", p)
		case len(c.Equals) == 0:
			where.WriteString(" and false")
		default:
			vals := make([]string, len(c.Equals))
			for i, v := range c.Equals {
				vals[i] = arg(v)
			}
			fmt.Fprintf(&where, " and doc #>> %s::text[] in (%s)", p, strings.Join(vals, ", "))
		}
	}
	return fmt.Sprintf("update evaluators set doc = %s, updated_at = now() where %s", expr, where.String()), args, nil
}

// pathLiteral renders a Postgres text[] literal, e.g. {"status","q1"}.
func pathLiteral(p Path) string {
	parts := make([]string, len(p))
	for i, k := range p {
		k = strings.ReplaceAll(k, `\`, `\\`)
		k = strings.ReplaceAll(k, `"`, `\"`)
		parts[i] = `"` + k + `"`
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
