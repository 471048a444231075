package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"partyhub/server/internal/config"
	"partyhub/server/internal/interfaces"
	"partyhub/server/internal/models"
)

type MySQLStore struct {
	db           *gorm.DB
	usesPerLevel int

	mu      sync.Mutex
	turnSeq map[string]*atomic.Int64 // party id -> last combat turn number
}

func NewMySQLStore(cfg config.MySQLConfig, usesPerLevel int) (*MySQLStore, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(
		&models.Party{},
		&models.PartyMembership{},
		&models.Character{},
		&models.NPC{},
		&models.Ability{},
		&models.Encounter{},
		&models.InitiativeRoll{},
		&models.Message{},
		&models.CombatTurn{},
	); err != nil {
		return nil, err
	}

	if usesPerLevel <= 0 {
		usesPerLevel = 3
	}
	return &MySQLStore{
		db:           db,
		usesPerLevel: usesPerLevel,
		turnSeq:      make(map[string]*atomic.Int64),
	}, nil
}

func (s *MySQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *MySQLStore) GetDB() *gorm.DB {
	return s.db
}

// Transaction helper
func (s *MySQLStore) WithTx(fn func(*gorm.DB) error) error {
	return s.db.Transaction(fn)
}

func (s *MySQLStore) LoadParty(ctx context.Context, id string) (*models.Party, error) {
	var party models.Party
	err := s.db.WithContext(ctx).First(&party, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &party, nil
}

func (s *MySQLStore) LoadCharacter(ctx context.Context, id string) (*models.Character, error) {
	var character models.Character
	err := s.db.WithContext(ctx).First(&character, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &character, nil
}

func (s *MySQLStore) LoadNPC(ctx context.Context, id string) (*models.NPC, error) {
	var npc models.NPC
	err := s.db.WithContext(ctx).First(&npc, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &npc, nil
}

// ListPartyCharacters returns characters with an active membership in the
// party (left_at IS NULL).
func (s *MySQLStore) ListPartyCharacters(ctx context.Context, partyID string) ([]models.Character, error) {
	var characters []models.Character
	err := s.db.WithContext(ctx).
		Joins("JOIN party_memberships ON party_memberships.character_id = characters.id").
		Where("party_memberships.party_id = ? AND party_memberships.left_at IS NULL", partyID).
		Find(&characters).Error
	return characters, err
}

func (s *MySQLStore) ListPartyNPCs(ctx context.Context, partyID string, includeHidden bool) ([]models.NPC, error) {
	query := s.db.WithContext(ctx).Where("party_id = ?", partyID)
	if !includeHidden {
		query = query.Where("visible_to_players = ?", true)
	}
	var npcs []models.NPC
	err := query.Find(&npcs).Error
	return npcs, err
}

func (s *MySQLStore) ListAbilities(ctx context.Context, characterID string) ([]models.Ability, error) {
	var abilities []models.Ability
	err := s.db.WithContext(ctx).
		Where("character_id = ?", characterID).
		Order("slot_number").
		Find(&abilities).Error
	return abilities, err
}

// AppendMessage inserts one log row. A content hash over the sender, party,
// content and timestamp makes retried appends idempotent.
func (s *MySQLStore) AppendMessage(ctx context.Context, row interfaces.MessageRow) error {
	hash := messageHash(row)

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("content_hash = ?", hash).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	return s.db.WithContext(ctx).Create(&models.Message{
		ID:          uuid.NewString(),
		CampaignID:  row.CampaignID,
		PartyID:     row.PartyID,
		SenderID:    row.SenderID,
		SenderName:  row.SenderName,
		MessageType: row.MessageType,
		Mode:        row.Mode,
		Content:     row.Content,
		ExtraData:   row.ExtraData,
		ContentHash: hash,
		CreatedAt:   row.CreatedAt,
	}).Error
}

func messageHash(row interfaces.MessageRow) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d",
		row.PartyID, row.SenderID, row.MessageType, row.Content, row.CreatedAt.UnixNano())))
	return hex.EncodeToString(sum[:])
}

// AppendCombatTurn assigns the party's next turn number and a stable
// message id of the form {combatant}_turn_{n}.
func (s *MySQLStore) AppendCombatTurn(ctx context.Context, row interfaces.CombatTurnRow) error {
	seq, err := s.partyTurnSeq(ctx, row.PartyID)
	if err != nil {
		return err
	}
	turn := seq.Inc()

	return s.db.WithContext(ctx).Create(&models.CombatTurn{
		ID:            uuid.NewString(),
		PartyID:       row.PartyID,
		CombatantID:   row.CombatantID,
		CombatantName: row.CombatantName,
		TurnNumber:    int(turn),
		ActionType:    row.ActionType,
		ResultData:    row.ResultData,
		BAPApplied:    row.BAPApplied,
		MessageID:     fmt.Sprintf("%s_turn_%d", slugName(row.CombatantName), turn),
		Timestamp:     time.Now(),
	}).Error
}

// partyTurnSeq lazily seeds the in-process counter from the table's current
// maximum, so numbering survives restarts.
func (s *MySQLStore) partyTurnSeq(ctx context.Context, partyID string) (*atomic.Int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq, ok := s.turnSeq[partyID]; ok {
		return seq, nil
	}

	var max int64
	err := s.db.WithContext(ctx).
		Model(&models.CombatTurn{}).
		Where("party_id = ?", partyID).
		Select("COALESCE(MAX(turn_number), 0)").
		Scan(&max).Error
	if err != nil {
		return nil, err
	}

	seq := atomic.NewInt64(max)
	s.turnSeq[partyID] = seq
	return seq, nil
}

func slugName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// StartEncounter opens a combat for the party, reusing the open one if a
// concurrent roll already created it.
func (s *MySQLStore) StartEncounter(ctx context.Context, partyID string) (string, error) {
	existing, err := s.ActiveEncounter(ctx, partyID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}

	enc := models.Encounter{
		ID:        uuid.NewString(),
		PartyID:   partyID,
		Active:    true,
		StartedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&enc).Error; err != nil {
		return "", err
	}
	return enc.ID, nil
}

func (s *MySQLStore) ActiveEncounter(ctx context.Context, partyID string) (*models.Encounter, error) {
	var enc models.Encounter
	err := s.db.WithContext(ctx).
		Where("party_id = ? AND active = ?", partyID, true).
		First(&enc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &enc, nil
}

func (s *MySQLStore) EndEncounter(ctx context.Context, encounterID string, _ bool) error {
	now := time.Now()
	return s.db.WithContext(ctx).
		Model(&models.Encounter{}).
		Where("id = ?", encounterID).
		Updates(map[string]interface{}{
			"active":   false,
			"ended_at": &now,
		}).Error
}

// UpsertInitiativeRoll replaces a combatant's prior roll within the
// encounter, so re-rolls never duplicate roster rows.
func (s *MySQLStore) UpsertInitiativeRoll(ctx context.Context, row interfaces.InitiativeRollRow) error {
	return s.WithTx(func(tx *gorm.DB) error {
		query := tx.WithContext(ctx).Where("encounter_id = ?", row.EncounterID)
		if row.CharacterID != "" {
			query = query.Where("character_id = ?", row.CharacterID)
		} else {
			query = query.Where("npc_id = ?", row.NPCID)
		}

		var existing models.InitiativeRoll
		err := query.First(&existing).Error
		if err == nil {
			return tx.WithContext(ctx).
				Model(&models.InitiativeRoll{}).
				Where("id = ?", existing.ID).
				Updates(map[string]interface{}{
					"roll_result":  row.RollResult,
					"silent":       row.Silent,
					"rolled_by_sw": row.RolledBySW,
				}).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		return tx.WithContext(ctx).Create(&models.InitiativeRoll{
			ID:            uuid.NewString(),
			EncounterID:   row.EncounterID,
			CharacterID:   row.CharacterID,
			NPCID:         row.NPCID,
			CombatantName: row.CombatantName,
			RollResult:    row.RollResult,
			Silent:        row.Silent,
			RolledBySW:    row.RolledBySW,
			CreatedAt:     time.Now(),
		}).Error
	})
}

func (s *MySQLStore) ListInitiativeRolls(ctx context.Context, encounterID string) ([]models.InitiativeRoll, error) {
	var rolls []models.InitiativeRoll
	err := s.db.WithContext(ctx).
		Where("encounter_id = ?", encounterID).
		Order("created_at").
		Find(&rolls).Error
	return rolls, err
}

// ResetAbilityBudgets restores every party member's ability uses to the
// per-level budget.
func (s *MySQLStore) ResetAbilityBudgets(ctx context.Context, partyID string) error {
	return s.WithTx(func(tx *gorm.DB) error {
		characters, err := s.ListPartyCharacters(ctx, partyID)
		if err != nil {
			return err
		}
		for _, c := range characters {
			budget := s.usesPerLevel * c.Level
			if err := tx.WithContext(ctx).
				Model(&models.Ability{}).
				Where("character_id = ?", c.ID).
				Updates(map[string]interface{}{
					"max_uses":       budget,
					"uses_remaining": budget,
				}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *MySQLStore) UpdateCharacterDP(ctx context.Context, id string, newDP int, newStatus string, inCalling bool) error {
	return s.db.WithContext(ctx).
		Model(&models.Character{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"dp":         newDP,
			"status":     newStatus,
			"in_calling": inCalling,
		}).Error
}

func (s *MySQLStore) UpdateNPCDP(ctx context.Context, id string, newDP int, newStatus string) error {
	return s.db.WithContext(ctx).
		Model(&models.NPC{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"dp":     newDP,
			"status": newStatus,
		}).Error
}

func (s *MySQLStore) DecrementAbilityUse(ctx context.Context, abilityID string) error {
	result := s.db.WithContext(ctx).
		Model(&models.Ability{}).
		Where("id = ? AND uses_remaining > 0", abilityID).
		Update("uses_remaining", gorm.Expr("uses_remaining - 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("ability %s has no uses remaining", abilityID)
	}
	return nil
}

// RestoreAbilityUse undoes one decrement when a later write in the same
// cast fails.
func (s *MySQLStore) RestoreAbilityUse(ctx context.Context, abilityID string) error {
	return s.db.WithContext(ctx).
		Model(&models.Ability{}).
		Where("id = ? AND uses_remaining < max_uses", abilityID).
		Update("uses_remaining", gorm.Expr("uses_remaining + 1")).Error
}

var _ interfaces.Store = (*MySQLStore)(nil)
