// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// CsvIngestTask represents the data structure for a CSV ingestion job.
// ObjectName is the assembled object in the uploads/ prefix.
type CsvIngestTask struct {
	FileID     uint   `json:"file_id"`
	ObjectName string `json:"object_name"`
	FileName   string `json:"file_name"`
}
