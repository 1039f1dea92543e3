package mcpserver

// BackupFormatContract describes the backup document accepted by
// import_backup and produced by export_backup.
const BackupFormatContract = `# vidnotes Backup Format

A backup is a single JSON object with three fields.

` + "```" + `json
{
  "notes": {
    "<videoId>": [
      {
        "id": "3f2c9a7e-...",
        "timestamp": 83.5,
        "text": "Key point about channels",
        "createdAt": 1718000000000,
        "updatedAt": 1718000000000
      }
    ]
  },
  "metadata": {
    "<videoId>": {
      "title": "Go Concurrency Patterns",
      "noteCount": 1,
      "updatedAt": 1718000000000
    }
  },
  "exportedAt": "2024-06-10T06:13:20.000Z"
}
` + "```" + `

## Rules

1. **The root must be an object.** Anything else is rejected and nothing is written.
2. ` + "`" + `notes` + "`" + ` and ` + "`" + `metadata` + "`" + ` that are not objects are read as empty.
3. **timestamp** is seconds into the video. Notes without a finite timestamp are dropped.
4. **createdAt / updatedAt** are epoch milliseconds.
5. Notes are matched by ` + "`" + `id` + "`" + `. Notes without an id are matched by timestamp and
   lower-cased text. A note that matches a stored one is skipped; the stored text wins.
6. A metadata record replaces the stored one only when its ` + "`" + `updatedAt` + "`" + ` is newer.
7. ` + "`" + `noteCount` + "`" + ` is recomputed from the merged notes.
8. Importing the same backup twice changes nothing the second time.
`
