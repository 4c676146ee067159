// Package dao persists objects and grants to SQLite. The in-memory
// directory state is authoritative while the process runs; the DAO is a
// write-through journal replayed at startup.
package dao

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"odrive/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS object (
    id           TEXT PRIMARY KEY,
    typeName     TEXT NOT NULL,
    parentId     TEXT NOT NULL DEFAULT '',
    name         TEXT NOT NULL,
    contentType  TEXT NOT NULL DEFAULT '',
    contentSize  INTEGER NOT NULL DEFAULT 0,
    createdDate  TIMESTAMP NOT NULL,
    createdBy    TEXT NOT NULL,
    modifiedDate TIMESTAMP NOT NULL,
    rawAcm       TEXT NOT NULL,
    blobRef      TEXT NOT NULL DEFAULT '',
    changeToken  TEXT NOT NULL,
    changeCount  INTEGER NOT NULL DEFAULT 0,
    isDeleted    INTEGER NOT NULL DEFAULT 0,
    deletedDate  TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_object_parent ON object (parentId);

CREATE TABLE IF NOT EXISTS object_permission (
    objectId    TEXT NOT NULL,
    granteeId   TEXT NOT NULL,
    allowCreate INTEGER NOT NULL DEFAULT 0,
    allowRead   INTEGER NOT NULL DEFAULT 0,
    allowUpdate INTEGER NOT NULL DEFAULT 0,
    allowDelete INTEGER NOT NULL DEFAULT 0,
    allowShare  INTEGER NOT NULL DEFAULT 0,
    propagate   INTEGER NOT NULL DEFAULT 0,
    createdBy   TEXT NOT NULL,
    createdDate TIMESTAMP NOT NULL,
    PRIMARY KEY (objectId, granteeId)
);
CREATE INDEX IF NOT EXISTS idx_permission_grantee ON object_permission (granteeId);
`

type objectRow struct {
	ID           string       `db:"id"`
	TypeName     string       `db:"typeName"`
	ParentID     string       `db:"parentId"`
	Name         string       `db:"name"`
	ContentType  string       `db:"contentType"`
	ContentSize  int64        `db:"contentSize"`
	CreatedDate  time.Time    `db:"createdDate"`
	CreatedBy    string       `db:"createdBy"`
	ModifiedDate time.Time    `db:"modifiedDate"`
	RawACM       string       `db:"rawAcm"`
	BlobRef      string       `db:"blobRef"`
	ChangeToken  string       `db:"changeToken"`
	ChangeCount  int          `db:"changeCount"`
	IsDeleted    bool         `db:"isDeleted"`
	DeletedDate  sql.NullTime `db:"deletedDate"`
}

type permissionRow struct {
	ObjectID    string    `db:"objectId"`
	GranteeID   string    `db:"granteeId"`
	AllowCreate bool      `db:"allowCreate"`
	AllowRead   bool      `db:"allowRead"`
	AllowUpdate bool      `db:"allowUpdate"`
	AllowDelete bool      `db:"allowDelete"`
	AllowShare  bool      `db:"allowShare"`
	Propagate   bool      `db:"propagate"`
	CreatedBy   string    `db:"createdBy"`
	CreatedDate time.Time `db:"createdDate"`
}

// DataAccessLayer wraps the metadata database.
type DataAccessLayer struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string, logger *zap.Logger) (*DataAccessLayer, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dao: open %s: %w", path, err)
	}
	// SQLite allows a single writer; serialize at the pool.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("dao: apply schema: %w", err)
	}
	return &DataAccessLayer{db: db, logger: logger}, nil
}

func (d *DataAccessLayer) Close() error {
	return d.db.Close()
}

// SaveObject inserts or replaces one object row.
func (d *DataAccessLayer) SaveObject(obj *types.Object) error {
	row := objectRow{
		ID:           string(obj.ID),
		TypeName:     string(obj.TypeName),
		ParentID:     string(obj.ParentID),
		Name:         obj.Name,
		ContentType:  obj.ContentType,
		ContentSize:  obj.ContentSize,
		CreatedDate:  obj.CreatedDate,
		CreatedBy:    string(obj.CreatedBy),
		ModifiedDate: obj.ModifiedDate,
		RawACM:       obj.RawACM,
		BlobRef:      string(obj.BlobRef),
		ChangeToken:  obj.ChangeToken,
		ChangeCount:  obj.ChangeCount,
		IsDeleted:    obj.Deleted,
	}
	if obj.DeletedDate != nil {
		row.DeletedDate = sql.NullTime{Time: *obj.DeletedDate, Valid: true}
	}
	_, err := d.db.NamedExec(`
        INSERT OR REPLACE INTO object
            (id, typeName, parentId, name, contentType, contentSize,
             createdDate, createdBy, modifiedDate, rawAcm, blobRef,
             changeToken, changeCount, isDeleted, deletedDate)
        VALUES
            (:id, :typeName, :parentId, :name, :contentType, :contentSize,
             :createdDate, :createdBy, :modifiedDate, :rawAcm, :blobRef,
             :changeToken, :changeCount, :isDeleted, :deletedDate)`, row)
	if err != nil {
		return fmt.Errorf("dao: save object %s: %w", obj.ID, err)
	}
	return nil
}

// SaveGrant inserts or replaces one permission row.
func (d *DataAccessLayer) SaveGrant(g types.Grant) error {
	row := permissionRow{
		ObjectID:    string(g.ObjectID),
		GranteeID:   string(g.GranteeID),
		AllowCreate: g.Flags.Create,
		AllowRead:   g.Flags.Read,
		AllowUpdate: g.Flags.Update,
		AllowDelete: g.Flags.Delete,
		AllowShare:  g.Flags.Share,
		Propagate:   g.PropagateToChildren,
		CreatedBy:   string(g.CreatedBy),
		CreatedDate: g.CreatedDate,
	}
	_, err := d.db.NamedExec(`
        INSERT OR REPLACE INTO object_permission
            (objectId, granteeId, allowCreate, allowRead, allowUpdate,
             allowDelete, allowShare, propagate, createdBy, createdDate)
        VALUES
            (:objectId, :granteeId, :allowCreate, :allowRead, :allowUpdate,
             :allowDelete, :allowShare, :propagate, :createdBy, :createdDate)`, row)
	if err != nil {
		return fmt.Errorf("dao: save grant %s/%s: %w", g.ObjectID, g.GranteeID, err)
	}
	return nil
}

// DeleteGrant removes one permission row.
func (d *DataAccessLayer) DeleteGrant(objectID types.ObjectID, granteeID types.GranteeID) error {
	_, err := d.db.Exec(`DELETE FROM object_permission WHERE objectId = ? AND granteeId = ?`,
		string(objectID), string(granteeID))
	if err != nil {
		return fmt.Errorf("dao: delete grant %s/%s: %w", objectID, granteeID, err)
	}
	return nil
}

// LoadAll reads every persisted object and grant, for state restoration at
// startup.
func (d *DataAccessLayer) LoadAll() ([]*types.Object, []types.Grant, error) {
	var objRows []objectRow
	if err := d.db.Select(&objRows, `SELECT * FROM object ORDER BY createdDate, id`); err != nil {
		return nil, nil, fmt.Errorf("dao: load objects: %w", err)
	}
	objects := make([]*types.Object, 0, len(objRows))
	for _, r := range objRows {
		obj := &types.Object{
			ID:           types.ObjectID(r.ID),
			TypeName:     types.TypeName(r.TypeName),
			ParentID:     types.ObjectID(r.ParentID),
			Name:         r.Name,
			ContentType:  r.ContentType,
			ContentSize:  r.ContentSize,
			CreatedDate:  r.CreatedDate,
			CreatedBy:    types.GranteeID(r.CreatedBy),
			ModifiedDate: r.ModifiedDate,
			RawACM:       r.RawACM,
			BlobRef:      types.BlobRef(r.BlobRef),
			ChangeToken:  r.ChangeToken,
			ChangeCount:  r.ChangeCount,
			Deleted:      r.IsDeleted,
		}
		if r.DeletedDate.Valid {
			t := r.DeletedDate.Time
			obj.DeletedDate = &t
		}
		objects = append(objects, obj)
	}

	var permRows []permissionRow
	if err := d.db.Select(&permRows, `SELECT * FROM object_permission`); err != nil {
		return nil, nil, fmt.Errorf("dao: load grants: %w", err)
	}
	grantRecords := make([]types.Grant, 0, len(permRows))
	for _, r := range permRows {
		grantRecords = append(grantRecords, types.Grant{
			ObjectID:  types.ObjectID(r.ObjectID),
			GranteeID: types.GranteeID(r.GranteeID),
			Flags: types.PermissionFlags{
				Create: r.AllowCreate,
				Read:   r.AllowRead,
				Update: r.AllowUpdate,
				Delete: r.AllowDelete,
				Share:  r.AllowShare,
			},
			PropagateToChildren: r.Propagate,
			CreatedBy:           types.GranteeID(r.CreatedBy),
			CreatedDate:         r.CreatedDate,
		})
	}

	d.logger.Info("persisted state loaded",
		zap.Int("objects", len(objects)),
		zap.Int("grants", len(grantRecords)))
	return objects, grantRecords, nil
}
