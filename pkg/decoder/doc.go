/*
Package decoder unmasks every QMC file in a directory.

# How it works:

A Decoder is given a MaskSource, typically a *maskcache.Cache, and decodes the recognized files directly inside an input directory (subdirectories are not visited).
Each decoded file is written to the output directory as the original stem followed by the container extension, for example "song.qmc0" becomes "song.mp3".

Before anything is written the output directory is checked.
If it exists and is not empty, Decode fails with qmc.ErrOutputConflict unless Force was given, in which case the directory is replaced.

Files are handled independently.
A file larger than the mask is skipped, and a file that fails to decode is reported, but neither stops the rest of the batch.
Each output file is written to a temporary name and renamed into place, so a failed file never leaves partial output behind.
*/
package decoder
